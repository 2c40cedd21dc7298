package store

const schemaSQL = `
CREATE TABLE IF NOT EXISTS en_downloads (
    id          UUID PRIMARY KEY,
    start_date  DATE NOT NULL,
    end_date    DATE NOT NULL,
    status      TEXT NOT NULL,
    expected    INTEGER,
    received    BIGINT NOT NULL DEFAULT 0,
    error       TEXT,
    started_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
    finished_at TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS en_transactions (
    download_id     UUID NOT NULL REFERENCES en_downloads (id) ON DELETE CASCADE,
    row_number      BIGINT NOT NULL,
    supporter_email TEXT NOT NULL,
    campaign_type   TEXT NOT NULL,
    campaign_id     TEXT NOT NULL,
    record          JSONB NOT NULL,
    PRIMARY KEY (download_id, row_number)
);

CREATE INDEX IF NOT EXISTS en_transactions_supporter_email_idx
    ON en_transactions (supporter_email);
`

const insertDownloadSQL = `
INSERT INTO en_downloads (id, start_date, end_date, status, expected)
VALUES ($1, $2, $3, $4, $5)`

const finishDownloadSQL = `
UPDATE en_downloads
SET status = $2, received = $3, error = $4, finished_at = now()
WHERE id = $1`

var transactionsTable = []string{"en_transactions"}

var transactionColumns = []string{
	"download_id",
	"row_number",
	"supporter_email",
	"campaign_type",
	"campaign_id",
	"record",
}
