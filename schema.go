package castellan

// Schema contains sql commands to setup the database to work for the
// castellan app.
const Schema = `
CREATE TABLE IF NOT EXISTS principal (
	id VARCHAR(26) PRIMARY KEY,
	handle VARCHAR(60) UNIQUE NOT NULL,
	email VARCHAR(255) NOT NULL,
	is_email_verified BOOLEAN DEFAULT false,
	email_verified_at TIMESTAMP WITH TIME ZONE NULL,
	password VARCHAR(100) NOT NULL,
	role VARCHAR(20) NOT NULL DEFAULT 'user',
	is_active BOOLEAN DEFAULT true,
	credential_epoch BIGINT NOT NULL DEFAULT 0,
	archived_at TIMESTAMP WITH TIME ZONE NULL,
	anonymized_at TIMESTAMP WITH TIME ZONE NULL,
	created_at TIMESTAMP WITH TIME ZONE DEFAULT current_timestamp,
	updated_at TIMESTAMP WITH TIME ZONE DEFAULT current_timestamp
);
CREATE UNIQUE INDEX IF NOT EXISTS principal_email_idx
	ON principal (lower(email)) WHERE anonymized_at IS NULL;
CREATE TABLE IF NOT EXISTS linked_identity (
	id VARCHAR(26) PRIMARY KEY,
	principal_id VARCHAR(26) REFERENCES principal(id) NOT NULL,
	provider VARCHAR(20) NOT NULL,
	subject VARCHAR(255) NOT NULL,
	email VARCHAR(255) NOT NULL,
	linked_at TIMESTAMP WITH TIME ZONE DEFAULT current_timestamp,
	UNIQUE (provider, subject)
);
CREATE TABLE IF NOT EXISTS mfa_enrollment (
	principal_id VARCHAR(26) PRIMARY KEY REFERENCES principal(id),
	totp_secret VARCHAR(255) NOT NULL DEFAULT '',
	is_totp_enabled BOOLEAN DEFAULT false,
	is_email_enabled BOOLEAN DEFAULT false,
	alternate_email VARCHAR(255) NOT NULL DEFAULT '',
	is_alternate_email_verified BOOLEAN DEFAULT false,
	preferred_method VARCHAR(20) NOT NULL DEFAULT 'totp',
	failed_attempts INT NOT NULL DEFAULT 0,
	locked_until TIMESTAMP WITH TIME ZONE NULL,
	grace_until TIMESTAMP WITH TIME ZONE NULL,
	completed_at TIMESTAMP WITH TIME ZONE NULL,
	created_at TIMESTAMP WITH TIME ZONE DEFAULT current_timestamp,
	updated_at TIMESTAMP WITH TIME ZONE DEFAULT current_timestamp
);
CREATE TABLE IF NOT EXISTS backup_code (
	id VARCHAR(26) PRIMARY KEY,
	principal_id VARCHAR(26) REFERENCES principal(id) NOT NULL,
	code_hash VARCHAR(255) NOT NULL,
	consumed_at TIMESTAMP WITH TIME ZONE NULL,
	created_at TIMESTAMP WITH TIME ZONE DEFAULT current_timestamp
);
CREATE INDEX IF NOT EXISTS backup_code_principal_idx
	ON backup_code (principal_id);
CREATE TABLE IF NOT EXISTS verification_code (
	id VARCHAR(26) PRIMARY KEY,
	principal_id VARCHAR(26) REFERENCES principal(id) NOT NULL,
	purpose VARCHAR(30) NOT NULL,
	code_hash VARCHAR(255) NOT NULL,
	attempts INT NOT NULL DEFAULT 0,
	expires_at TIMESTAMP WITH TIME ZONE NOT NULL,
	consumed_at TIMESTAMP WITH TIME ZONE NULL,
	created_at TIMESTAMP WITH TIME ZONE DEFAULT current_timestamp
);
CREATE INDEX IF NOT EXISTS verification_code_purpose_idx
	ON verification_code (principal_id, purpose);
CREATE TABLE IF NOT EXISTS session (
	id VARCHAR(26) PRIMARY KEY,
	principal_id VARCHAR(26) REFERENCES principal(id) NOT NULL,
	fingerprint VARCHAR(64) NOT NULL,
	device_name VARCHAR(100) NOT NULL DEFAULT '',
	device_type VARCHAR(20) NOT NULL DEFAULT 'desktop',
	browser VARCHAR(60) NOT NULL DEFAULT '',
	os VARCHAR(60) NOT NULL DEFAULT '',
	ip_address VARCHAR(45) NOT NULL DEFAULT '',
	location VARCHAR(100) NOT NULL DEFAULT '',
	created_at TIMESTAMP WITH TIME ZONE DEFAULT current_timestamp,
	last_active_at TIMESTAMP WITH TIME ZONE DEFAULT current_timestamp,
	expires_at TIMESTAMP WITH TIME ZONE NOT NULL,
	revoked_at TIMESTAMP WITH TIME ZONE NULL,
	revoke_reason VARCHAR(40) NOT NULL DEFAULT '',
	is_trusted BOOLEAN DEFAULT false,
	trusted_until TIMESTAMP WITH TIME ZONE NULL
);
CREATE INDEX IF NOT EXISTS session_principal_idx
	ON session (principal_id, fingerprint);
CREATE TABLE IF NOT EXISTS refresh_family (
	id VARCHAR(36) PRIMARY KEY,
	principal_id VARCHAR(26) REFERENCES principal(id) NOT NULL,
	session_id VARCHAR(26) NOT NULL,
	version INT NOT NULL DEFAULT 1,
	revoked_at TIMESTAMP WITH TIME ZONE NULL,
	created_at TIMESTAMP WITH TIME ZONE DEFAULT current_timestamp,
	updated_at TIMESTAMP WITH TIME ZONE DEFAULT current_timestamp
);
CREATE INDEX IF NOT EXISTS refresh_family_principal_idx
	ON refresh_family (principal_id);
CREATE TABLE IF NOT EXISTS login_attempt (
	id BIGSERIAL PRIMARY KEY,
	principal_id VARCHAR(26) NULL,
	email VARCHAR(255) NOT NULL DEFAULT '',
	ip_address VARCHAR(45) NOT NULL DEFAULT '',
	user_agent VARCHAR(500) NOT NULL DEFAULT '',
	is_success BOOLEAN NOT NULL,
	reason VARCHAR(40) NOT NULL DEFAULT '',
	is_mfa_used BOOLEAN NOT NULL DEFAULT false,
	created_at TIMESTAMP WITH TIME ZONE DEFAULT current_timestamp
);
CREATE INDEX IF NOT EXISTS login_attempt_principal_idx
	ON login_attempt (principal_id, created_at DESC);
CREATE TABLE IF NOT EXISTS security_event (
	id BIGSERIAL PRIMARY KEY,
	principal_id VARCHAR(26) REFERENCES principal(id) NOT NULL,
	event_type VARCHAR(30) NOT NULL,
	severity VARCHAR(10) NOT NULL,
	details JSONB NOT NULL DEFAULT '{}',
	acknowledged_at TIMESTAMP WITH TIME ZONE NULL,
	created_at TIMESTAMP WITH TIME ZONE DEFAULT current_timestamp
);
CREATE INDEX IF NOT EXISTS security_event_principal_idx
	ON security_event (principal_id, created_at DESC);
CREATE TABLE IF NOT EXISTS audit_entry (
	id BIGSERIAL PRIMARY KEY,
	actor_id VARCHAR(26) NOT NULL,
	action VARCHAR(60) NOT NULL,
	target_type VARCHAR(30) NOT NULL,
	target_id VARCHAR(36) NOT NULL DEFAULT '',
	details JSONB NOT NULL DEFAULT '{}',
	ip_address VARCHAR(45) NOT NULL DEFAULT '',
	user_agent VARCHAR(500) NOT NULL DEFAULT '',
	created_at TIMESTAMP WITH TIME ZONE DEFAULT current_timestamp
);
CREATE INDEX IF NOT EXISTS audit_entry_actor_idx
	ON audit_entry (actor_id, created_at DESC);
CREATE TABLE IF NOT EXISTS mfa_policy (
	id SMALLINT PRIMARY KEY DEFAULT 1 CHECK (id = 1),
	config JSONB NOT NULL,
	updated_at TIMESTAMP WITH TIME ZONE DEFAULT current_timestamp
);
`
