package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"slices"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgtype"
	kpool "github.com/opst/mlserve/pkg/conn/db/postgres/pool"
	"github.com/opst/mlserve/pkg/domain"
	domerr "github.com/opst/mlserve/pkg/domain/errors"
	kdb "github.com/opst/mlserve/pkg/domain/feedback/db"
	xe "github.com/opst/mlserve/pkg/errors"
)

type pgFeedback struct {
	pool kpool.Pool
}

func New(pool kpool.Pool) kdb.Interface {
	return &pgFeedback{pool: pool}
}

func (f *pgFeedback) Unconsumed(ctx context.Context) iter.Seq2[domain.FeedbackExample, error] {
	return func(yield func(domain.FeedbackExample, error) bool) {
		rows, err := f.pool.Query(
			ctx,
			`
			select
				"f"."id", "f"."timestamp", "f"."prediction_id", "f"."feedback",
				"p"."input_data"
			from "predictions"."prediction_feedback" as "f"
			inner join "predictions"."prediction_logs" as "p"
				on "p"."id" = "f"."prediction_id"
			where "f"."retraining_run_id" is null
			order by "f"."timestamp", "f"."id"
			`,
		)
		if err != nil {
			yield(domain.FeedbackExample{}, xe.Wrap(err))
			return
		}
		defer rows.Close()

		for rows.Next() {
			rec := domain.FeedbackRecord{}
			var input pgtype.JSONB
			if err := rows.Scan(
				&rec.Id, &rec.Timestamp, &rec.PredictionId, &rec.Feedback, &input,
			); err != nil {
				yield(domain.FeedbackExample{}, xe.Wrap(err))
				return
			}

			features := domain.Features{}
			if err := json.Unmarshal(input.Bytes, &features); err != nil {
				yield(domain.FeedbackExample{}, xe.WrapWithNote(
					fmt.Sprintf("input of prediction %d is broken", rec.PredictionId), err,
				))
				return
			}

			if !yield(domain.FeedbackExample{Record: rec, Input: features, Target: rec.Feedback}, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(domain.FeedbackExample{}, xe.Wrap(err))
		}
	}
}

func (f *pgFeedback) CountUnconsumed(ctx context.Context) (int, error) {
	var n int
	if err := f.pool.QueryRow(
		ctx,
		`select count(*) from "predictions"."prediction_feedback" where "retraining_run_id" is null`,
	).Scan(&n); err != nil {
		return 0, xe.Wrap(err)
	}
	return n, nil
}

func (f *pgFeedback) MarkConsumed(ctx context.Context, ids []int64, runId string) error {
	ids = slices.Clone(ids)
	slices.Sort(ids)
	ids = slices.Compact(ids)
	if len(ids) == 0 {
		return nil
	}

	tx, err := f.pool.Begin(ctx)
	if err != nil {
		return xe.Wrap(err)
	}
	defer tx.Rollback(ctx)

	ct, err := tx.Exec(
		ctx,
		`
		update "predictions"."prediction_feedback"
		set "retraining_run_id" = $1
		where "id" = any($2::bigint[]) and "retraining_run_id" is null
		`,
		runId, ids,
	)
	if err != nil {
		return xe.Wrap(err)
	}
	if n := ct.RowsAffected(); n != int64(len(ids)) {
		return xe.Wrap(fmt.Errorf(
			"%w: %d of %d feedback are missing or consumed already",
			domerr.ErrConflict, int64(len(ids))-n, len(ids),
		))
	}

	if err := tx.Commit(ctx); err != nil {
		return xe.Wrap(err)
	}
	return nil
}

func (f *pgFeedback) Submit(ctx context.Context, predictionId int64, value float64) (domain.FeedbackRecord, error) {
	rec := domain.FeedbackRecord{}
	if err := f.pool.QueryRow(
		ctx,
		`
		insert into "predictions"."prediction_feedback" ("prediction_id", "feedback")
		values ($1, $2)
		returning "id", "timestamp", "prediction_id", "feedback"
		`,
		predictionId, value,
	).Scan(&rec.Id, &rec.Timestamp, &rec.PredictionId, &rec.Feedback); err != nil {
		if pgerr := new(pgconn.PgError); errors.As(err, &pgerr) && pgerr.Code == pgerrcode.ForeignKeyViolation {
			return domain.FeedbackRecord{}, xe.Wrap(domerr.Missing{
				Table: "predictions.prediction_logs", Identity: fmt.Sprintf("prediction %d", predictionId),
			})
		}
		return domain.FeedbackRecord{}, xe.Wrap(err)
	}
	return rec, nil
}
