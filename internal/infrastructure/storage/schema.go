package storage

const schema = `
CREATE TABLE IF NOT EXISTS prompt_records (
    id                  TEXT PRIMARY KEY,
    source              TEXT NOT NULL,
    source_name         TEXT NOT NULL DEFAULT '',
    external_id         TEXT NOT NULL DEFAULT '',
    url                 TEXT NOT NULL DEFAULT '',
    text                TEXT NOT NULL,
    upvotes             BIGINT NOT NULL DEFAULT 0,
    comments            BIGINT NOT NULL DEFAULT 0,
    views               BIGINT NOT NULL DEFAULT 0,
    created_at          TIMESTAMPTZ NOT NULL,
    model_type          TEXT NOT NULL DEFAULT 'unknown',
    local_score         DOUBLE PRECISION NOT NULL,
    ai_score            DOUBLE PRECISION,
    combined_score      DOUBLE PRECISION NOT NULL CHECK (combined_score >= 0 AND combined_score <= 10),
    breakdown           JSONB NOT NULL,
    weights             JSONB NOT NULL,
    used_for_training   BOOLEAN NOT NULL DEFAULT FALSE,
    training_iterations INTEGER NOT NULL DEFAULT 0 CHECK (training_iterations >= 0),
    harvested_at        TIMESTAMPTZ NOT NULL,
    analyzed_at         TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS prompt_records_score_idx ON prompt_records (combined_score DESC, created_at DESC);
CREATE INDEX IF NOT EXISTS prompt_records_model_idx ON prompt_records (model_type);
CREATE INDEX IF NOT EXISTS prompt_records_training_idx ON prompt_records (used_for_training);

CREATE TABLE IF NOT EXISTS prompt_patterns (
    type             TEXT NOT NULL,
    value            TEXT NOT NULL,
    model_type       TEXT NOT NULL,
    occurrence_count INTEGER NOT NULL,
    average_quality  DOUBLE PRECISION NOT NULL,
    updated_at       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    PRIMARY KEY (type, value, model_type)
);

CREATE TABLE IF NOT EXISTS training_usage (
    prompt_id   TEXT NOT NULL REFERENCES prompt_records (id),
    agent_id    TEXT NOT NULL,
    iterations  INTEGER NOT NULL,
    success     BOOLEAN NOT NULL,
    recorded_at TIMESTAMPTZ NOT NULL,
    PRIMARY KEY (prompt_id, agent_id, recorded_at)
);
`
