package database

const schema = `
CREATE TABLE IF NOT EXISTS categories (
    id   TEXT PRIMARY KEY,
    name TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS items (
    id          TEXT PRIMARY KEY,
    name        TEXT NOT NULL,
    description TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS auctions (
    id                  TEXT PRIMARY KEY,
    title               TEXT NOT NULL,
    base_price          NUMERIC(20,4) NOT NULL CHECK (base_price > 0),
    minimum_bid_allowed NUMERIC(20,4) NOT NULL,
    chair_cost          NUMERIC(20,4) NOT NULL,
    start_date          TIMESTAMPTZ NOT NULL,
    end_date            TIMESTAMPTZ,
    status              TEXT NOT NULL,
    seller_id           TEXT NOT NULL,
    category_id         TEXT NOT NULL REFERENCES categories (id),
    item_id             TEXT NOT NULL REFERENCES items (id),
    winning_bidder_id   TEXT,
    rejection_message   TEXT,
    created_at          TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at          TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS auctions_status_idx ON auctions (status);
CREATE INDEX IF NOT EXISTS auctions_seller_idx ON auctions (seller_id);

CREATE TABLE IF NOT EXISTS auction_bidders (
    auction_id TEXT NOT NULL REFERENCES auctions (id) ON DELETE CASCADE,
    bidder_id  TEXT NOT NULL,
    seq        BIGSERIAL,
    joined_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
    PRIMARY KEY (auction_id, bidder_id)
);

CREATE TABLE IF NOT EXISTS bids (
    id         TEXT PRIMARY KEY,
    auction_id TEXT NOT NULL REFERENCES auctions (id) ON DELETE CASCADE,
    bidder_id  TEXT NOT NULL,
    amount     NUMERIC(20,4) NOT NULL,
    created_at TIMESTAMPTZ NOT NULL,
    seq        BIGSERIAL
);

CREATE INDEX IF NOT EXISTS bids_auction_idx ON bids (auction_id, amount DESC);

CREATE TABLE IF NOT EXISTS wallets (
    owner_id   TEXT PRIMARY KEY,
    balance    NUMERIC(20,4) NOT NULL DEFAULT 0 CHECK (balance >= 0),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS transactions (
    id           TEXT PRIMARY KEY,
    amount       NUMERIC(20,4) NOT NULL CHECK (amount > 0),
    sender_id    TEXT,
    recipient_id TEXT,
    kind         TEXT NOT NULL,
    reference    TEXT,
    created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS transactions_sender_idx ON transactions (sender_id);
CREATE INDEX IF NOT EXISTS transactions_recipient_idx ON transactions (recipient_id);
CREATE UNIQUE INDEX IF NOT EXISTS transactions_settlement_ref_idx
    ON transactions (reference) WHERE kind = 'settlement';

CREATE TABLE IF NOT EXISTS scheduled_jobs (
    auction_id TEXT NOT NULL,
    kind       TEXT NOT NULL,
    fire_at    TIMESTAMPTZ NOT NULL,
    PRIMARY KEY (auction_id, kind)
);
`
