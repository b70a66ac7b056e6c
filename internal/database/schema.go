package database

const schema = `
CREATE TABLE IF NOT EXISTS accounts (
    id BIGINT AUTO_INCREMENT PRIMARY KEY,
    email VARCHAR(255) NOT NULL UNIQUE,
    api_token VARCHAR(64) NOT NULL UNIQUE,
    tier VARCHAR(32) NOT NULL DEFAULT 'free',
    credits INT NOT NULL DEFAULT 0,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
    CONSTRAINT chk_accounts_credits CHECK (credits >= 0)
);

CREATE TABLE IF NOT EXISTS usage_events (
    id BIGINT AUTO_INCREMENT PRIMARY KEY,
    account_id BIGINT NOT NULL,
    credits_used INT NOT NULL,
    model VARCHAR(64) NOT NULL DEFAULT '',
    prompt TEXT NOT NULL,
    created_at TIMESTAMP(6) NOT NULL,
    INDEX idx_usage_account_created (account_id, created_at),
    FOREIGN KEY (account_id) REFERENCES accounts(id)
);

CREATE TABLE IF NOT EXISTS billing_gaps (
    id CHAR(36) PRIMARY KEY,
    account_id BIGINT NOT NULL,
    credits_used INT NOT NULL,
    model VARCHAR(64) NOT NULL DEFAULT '',
    prompt TEXT NOT NULL,
    reason TEXT NOT NULL,
    occurred_at TIMESTAMP(6) NOT NULL,
    resolved_at TIMESTAMP NULL,
    INDEX idx_gaps_account (account_id)
);
`
