package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/opst/mlserve/cmd/mlserved/handlers"
	kmlserve "github.com/opst/mlserve/pkg/configs/mlserve"
	kpg "github.com/opst/mlserve/pkg/db/postgres"
	"github.com/opst/mlserve/pkg/domain"
	"github.com/opst/mlserve/pkg/echoutil"
	"github.com/opst/mlserve/pkg/metrics"
	"github.com/opst/mlserve/pkg/serving"
	"github.com/opst/mlserve/pkg/utils/filewatch"
	"github.com/opst/mlserve/pkg/utils/try"
)

func main() {
	logger := log.Default()
	ctx, cancel := signal.NotifyContext(
		context.Background(), os.Interrupt, os.Kill, syscall.SIGTERM,
	)
	defer cancel()

	pconfig := flag.String("config", os.Getenv("MLSERVE_CONFIG"), "path to config file")
	loglevel := flag.String("loglevel", "info", "log level. debug|info|warn|error|off")
	pcert := flag.String("cert", "", "certification file for TLS")
	pkey := flag.String("certkey", "", "key of certification file for TLS")
	flag.Parse()

	conf := try.To(kmlserve.Load(*pconfig)).OrFatal(logger)

	e := echo.New()
	e.HideBanner = true
	echoutil.SetLevel(e, *loglevel)
	e.HTTPErrorHandler = func(err error, ctx echo.Context) {
		e.DefaultHTTPErrorHandler(err, ctx)
		e.Logger.Error(err)
	}
	e.Validator = echoutil.NewValidator()
	e.Use(echoutil.LogHandlerFunc)

	{
		wctx, cancel, err := filewatch.UntilModifyContext(ctx, *pconfig)
		if err != nil {
			logger.Fatalf("can not watch configration: %s", err)
		}
		defer cancel()
		context.AfterFunc(wctx, func() {
			logger.Println("config file is updated or server is stopping. quit.")
			graceful, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			if err := e.Shutdown(graceful); err != nil {
				logger.Printf("error on shutdown: %s", err)
			}
		})
	}

	db := try.To(kpg.FromConfig(ctx, conf, kpg.WithRetry(kpg.DefaultBackoff()))).OrFatal(logger)
	defer db.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	alias := conf.Model().Alias()
	predictor := serving.New(
		conf.Model().Name(), alias, db.Registry(), db.Predictions(),
		serving.WithLogger(logger),
		serving.OnServe(func(mv domain.ModelVersion) { m.Served(mv, alias) }),
	)

	e.GET("/", handlers.RootHandler)
	e.POST("/api/predict", handlers.PredictHandler(predictor, m))
	e.GET("/api/model-info", handlers.ModelInfoHandler(predictor))
	{
		feedback := handlers.FeedbackHandler(db.Feedback(), m)
		if secret := conf.Auth().FeedbackSecret(); len(secret) != 0 {
			e.POST("/api/feedback", feedback, handlers.BearerAuth(secret, conf.Auth().Issuer()))
		} else {
			e.POST("/api/feedback", feedback)
		}
	}
	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})))

	addr := fmt.Sprintf(":%d", conf.Port())
	var err error
	if *pcert != "" && *pkey != "" {
		err = e.StartTLS(addr, *pcert, *pkey)
	} else {
		err = e.Start(addr)
	}
	if err != nil && err != http.ErrServerClosed {
		logger.Fatal(err)
	}
}
