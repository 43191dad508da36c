package store

// schema is applied in order by Migrate. Every statement is idempotent.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id            UUID PRIMARY KEY,
		email         TEXT NOT NULL,
		password_hash TEXT NOT NULL,
		first_name    TEXT NOT NULL DEFAULT '',
		last_name     TEXT NOT NULL DEFAULT '',
		date_of_birth DATE,
		phone_number  TEXT,
		created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
		CONSTRAINT users_email_key UNIQUE (email),
		CONSTRAINT users_phone_number_key UNIQUE (phone_number)
	)`,
	`CREATE TABLE IF NOT EXISTS bank_accounts (
		id              UUID PRIMARY KEY,
		user_id         UUID NOT NULL,
		name            TEXT NOT NULL,
		currency        CHAR(3) NOT NULL,
		balance         NUMERIC(18,2) NOT NULL DEFAULT 0,
		opening_balance NUMERIC(18,2) NOT NULL DEFAULT 0,
		created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
		CONSTRAINT bank_accounts_balance_nonnegative CHECK (balance >= 0)
	)`,
	`CREATE INDEX IF NOT EXISTS bank_accounts_user_idx ON bank_accounts (user_id)`,
	`CREATE TABLE IF NOT EXISTS credit_cards (
		id           UUID PRIMARY KEY,
		user_id      UUID NOT NULL,
		name         TEXT NOT NULL,
		currency     CHAR(3) NOT NULL,
		credit_limit NUMERIC(18,2) NOT NULL,
		current_debt NUMERIC(18,2) NOT NULL DEFAULT 0,
		opening_debt NUMERIC(18,2) NOT NULL DEFAULT 0,
		created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
		CONSTRAINT credit_cards_debt_nonnegative CHECK (current_debt >= 0),
		CONSTRAINT credit_cards_debt_within_limit CHECK (current_debt <= credit_limit)
	)`,
	`CREATE INDEX IF NOT EXISTS credit_cards_user_idx ON credit_cards (user_id)`,
	`CREATE TABLE IF NOT EXISTS loans (
		id            UUID PRIMARY KEY,
		user_id       UUID NOT NULL,
		name          TEXT NOT NULL,
		currency      CHAR(3) NOT NULL,
		principal     NUMERIC(18,2) NOT NULL,
		current_debt  NUMERIC(18,2) NOT NULL DEFAULT 0,
		opening_debt  NUMERIC(18,2) NOT NULL DEFAULT 0,
		interest_rate NUMERIC(7,4) NOT NULL DEFAULT 0,
		term_months   INTEGER NOT NULL DEFAULT 0,
		created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
		CONSTRAINT loans_debt_nonnegative CHECK (current_debt >= 0),
		CONSTRAINT loans_debt_within_principal CHECK (current_debt <= principal)
	)`,
	`CREATE INDEX IF NOT EXISTS loans_user_idx ON loans (user_id)`,
	`CREATE TABLE IF NOT EXISTS transactions (
		id               UUID PRIMARY KEY,
		seq              BIGINT GENERATED ALWAYS AS IDENTITY,
		user_id          UUID NOT NULL,
		type             TEXT NOT NULL CHECK (type IN ('income', 'expense', 'transfer')),
		amount           NUMERIC(18,2) NOT NULL CHECK (amount > 0),
		date             TIMESTAMPTZ NOT NULL,
		description      TEXT NOT NULL DEFAULT '',
		category         TEXT NOT NULL DEFAULT '',
		source_kind      TEXT,
		source_id        UUID,
		destination_kind TEXT,
		destination_id   UUID,
		transfer_type    TEXT NOT NULL DEFAULT '',
		created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at       TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS transactions_user_date_idx ON transactions (user_id, date DESC, seq)`,
	`CREATE INDEX IF NOT EXISTS transactions_source_idx ON transactions (source_kind, source_id)`,
	`CREATE INDEX IF NOT EXISTS transactions_destination_idx ON transactions (destination_kind, destination_id)`,
}
