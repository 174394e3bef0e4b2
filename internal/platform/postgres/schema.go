package postgres

// Schema is applied on startup. Every statement is idempotent.
const Schema = `
CREATE TABLE IF NOT EXISTS subjects (
    id            UUID PRIMARY KEY,
    role          TEXT NOT NULL CHECK (role IN ('GUARDIAN', 'MONITORED')),
    guardian_id   UUID NULL REFERENCES subjects (id),
    name          TEXT NOT NULL,
    contact_phone TEXT NOT NULL DEFAULT '',
    active        BOOLEAN NOT NULL DEFAULT TRUE
);

CREATE TABLE IF NOT EXISTS trusted_contacts (
    subject_id UUID NOT NULL REFERENCES subjects (id) ON DELETE CASCADE,
    position   INT NOT NULL,
    name       TEXT NOT NULL,
    phone      TEXT NOT NULL,
    PRIMARY KEY (subject_id, position)
);

CREATE TABLE IF NOT EXISTS location_points (
    id          TEXT PRIMARY KEY,
    subject_id  UUID NOT NULL,
    latitude    DOUBLE PRECISION NOT NULL CHECK (latitude BETWEEN -90 AND 90),
    longitude   DOUBLE PRECISION NOT NULL CHECK (longitude BETWEEN -180 AND 180),
    accuracy    DOUBLE PRECISION NULL,
    recorded_at TIMESTAMPTZ NOT NULL,
    received_at TIMESTAMPTZ NOT NULL,
    source      TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS location_points_subject_recorded_idx
    ON location_points (subject_id, recorded_at DESC);

CREATE TABLE IF NOT EXISTS geofences (
    id                UUID PRIMARY KEY,
    guardian_id       UUID NOT NULL,
    target_subject_id UUID NULL,
    name              TEXT NOT NULL,
    center_lat        DOUBLE PRECISION NOT NULL,
    center_lon        DOUBLE PRECISION NOT NULL,
    radius_meters     DOUBLE PRECISION NOT NULL CHECK (radius_meters > 0),
    active            BOOLEAN NOT NULL DEFAULT TRUE,
    notify_on_entry   BOOLEAN NOT NULL DEFAULT TRUE,
    notify_on_exit    BOOLEAN NOT NULL DEFAULT TRUE
);

CREATE INDEX IF NOT EXISTS geofences_guardian_active_idx
    ON geofences (guardian_id) WHERE active;

CREATE TABLE IF NOT EXISTS membership_states (
    subject_id   UUID NOT NULL,
    geofence_id  UUID NOT NULL,
    is_inside    BOOLEAN NOT NULL,
    last_checked TIMESTAMPTZ NOT NULL,
    version      BIGINT NOT NULL,
    PRIMARY KEY (subject_id, geofence_id)
);

ALTER TABLE membership_states ADD COLUMN IF NOT EXISTS last_location_id TEXT NOT NULL DEFAULT '';
ALTER TABLE membership_states ADD COLUMN IF NOT EXISTS last_transition TEXT NOT NULL DEFAULT '';

CREATE TABLE IF NOT EXISTS alerts (
    id              UUID PRIMARY KEY,
    idempotency_key TEXT NOT NULL UNIQUE,
    subject_id      UUID NOT NULL,
    guardian_id     UUID NOT NULL,
    type            TEXT NOT NULL CHECK (type IN ('PANIC', 'GEOFENCE_ENTRY', 'GEOFENCE_EXIT')),
    latitude        DOUBLE PRECISION NOT NULL,
    longitude       DOUBLE PRECISION NOT NULL,
    geofence_id     UUID NULL,
    geofence_name   TEXT NOT NULL DEFAULT '',
    message         TEXT NOT NULL,
    is_read         BOOLEAN NOT NULL DEFAULT FALSE,
    created_at      TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS alerts_subject_type_created_idx
    ON alerts (subject_id, type, created_at DESC);
`
