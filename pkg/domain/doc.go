package domain

// domain package contains the Domain Models of mlserve.
//
// `domain/ENTITY.go` has high-level entities (Domain Model types) and functions.
// For example, `domain/feedback.go` contains the `FeedbackRecord` entity.
//
// `domain/ENTITY` directory contains the "phisical" representation of the domain entities.
// For example, `domain/feedback/db` is the database expression of feedback,
// and `domain/feedback/db/postgres` implements it on PostgreSQL.
//
// # Entities
//
// Core entities in the domain are:
//
// - PredictionRecord: a log of a served inference. Immutable.
//
// - FeedbackRecord: an observed target for a prediction. It is consumed by at most one retraining run.
//
// - ModelVersion: a numbered, immutable model registered from a Run.
// An alias (like "production") points one version of a model, and it is moved only by promotion.
//
// - TrainingConfig: how to build a pipeline (preprocessing stages and an estimator).
