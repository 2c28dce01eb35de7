package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/jackc/pgtype"
	"github.com/jackc/pgx/v4"
	kpool "github.com/opst/mlserve/pkg/conn/db/postgres/pool"
	"github.com/opst/mlserve/pkg/domain"
	domerr "github.com/opst/mlserve/pkg/domain/errors"
	kdb "github.com/opst/mlserve/pkg/domain/prediction/db"
	xe "github.com/opst/mlserve/pkg/errors"
)

type pgPrediction struct {
	pool kpool.Pool
}

func New(pool kpool.Pool) kdb.Interface {
	return &pgPrediction{pool: pool}
}

func jsonb(v any) (pgtype.JSONB, error) {
	if v == nil {
		return pgtype.JSONB{Status: pgtype.Null}, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return pgtype.JSONB{}, err
	}
	return pgtype.JSONB{Bytes: b, Status: pgtype.Present}, nil
}

func nullable(s string) pgtype.Text {
	if s == "" {
		return pgtype.Text{Status: pgtype.Null}
	}
	return pgtype.Text{String: s, Status: pgtype.Present}
}

func (p *pgPrediction) Record(ctx context.Context, rec domain.PredictionRecord) (domain.PredictionRecord, error) {
	input, err := jsonb(rec.Input)
	if err != nil {
		return domain.PredictionRecord{}, xe.Wrap(err)
	}
	var extra pgtype.JSONB
	if rec.ExtraMetadata == nil {
		extra = pgtype.JSONB{Status: pgtype.Null}
	} else if extra, err = jsonb(rec.ExtraMetadata); err != nil {
		return domain.PredictionRecord{}, xe.Wrap(err)
	}

	if err := p.pool.QueryRow(
		ctx,
		`
		insert into "predictions"."prediction_logs" (
			"model_name", "model_version", "mlflow_run_id",
			"prediction", "input_data", "user_notes", "extra_metadata"
		)
		values ($1, $2, $3, $4, $5, $6, $7)
		returning "id", "timestamp"
		`,
		rec.ModelName, nullable(rec.ModelVersion), nullable(rec.RunId),
		rec.Prediction, input, nullable(rec.UserNotes), extra,
	).Scan(&rec.Id, &rec.Timestamp); err != nil {
		return domain.PredictionRecord{}, xe.Wrap(err)
	}
	return rec, nil
}

func (p *pgPrediction) Get(ctx context.Context, id int64) (domain.PredictionRecord, error) {
	rec := domain.PredictionRecord{}
	var version, runId, notes pgtype.Text
	var input, extra pgtype.JSONB
	if err := p.pool.QueryRow(
		ctx,
		`
		select
			"id", "timestamp", "model_name", "model_version", "mlflow_run_id",
			"prediction", "input_data", "user_notes", "extra_metadata"
		from "predictions"."prediction_logs"
		where "id" = $1
		`,
		id,
	).Scan(
		&rec.Id, &rec.Timestamp, &rec.ModelName, &version, &runId,
		&rec.Prediction, &input, &notes, &extra,
	); errors.Is(err, pgx.ErrNoRows) {
		return domain.PredictionRecord{}, xe.Wrap(domerr.Missing{
			Table: "predictions.prediction_logs", Identity: "prediction " + strconv.FormatInt(id, 10),
		})
	} else if err != nil {
		return domain.PredictionRecord{}, xe.Wrap(err)
	}

	rec.ModelVersion, rec.RunId, rec.UserNotes = version.String, runId.String, notes.String
	if err := json.Unmarshal(input.Bytes, &rec.Input); err != nil {
		return domain.PredictionRecord{}, xe.WrapWithNote(fmt.Sprintf("input of prediction %d is broken", id), err)
	}
	if extra.Status == pgtype.Present {
		if err := json.Unmarshal(extra.Bytes, &rec.ExtraMetadata); err != nil {
			return domain.PredictionRecord{}, xe.Wrap(err)
		}
	}
	return rec, nil
}
