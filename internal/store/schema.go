package store

// schemaVersion is the version this binary understands. Opening a database
// stamped with a higher version is fatal (types.ErrSchemaTooNew).
const schemaVersion = 1

// migrations is applied forward-only, in order, starting from the database's
// current user_version. Entry i migrates a database from version i to
// version i+1 (migrations[0] moves a fresh database from 0 to 1).
var migrations = []string{
	migration1,
}

const migration1 = `
CREATE TABLE run_metadata (
	id               INTEGER PRIMARY KEY CHECK (id = 1),
	scraper_name     TEXT NOT NULL,
	scraper_version  TEXT NOT NULL,
	status           TEXT NOT NULL,
	created_at       INTEGER NOT NULL,
	started_at       INTEGER,
	ended_at         INTEGER,
	error_message    TEXT NOT NULL DEFAULT '',
	params_json      TEXT NOT NULL DEFAULT '{}',
	seed_params_json TEXT NOT NULL DEFAULT '{}',
	base_delay_ns    INTEGER NOT NULL DEFAULT 0,
	jitter_ns        INTEGER NOT NULL DEFAULT 0,
	num_workers      INTEGER NOT NULL DEFAULT 1,
	max_backoff_ns   INTEGER NOT NULL DEFAULT 0,
	speculation_config_json TEXT NOT NULL DEFAULT '{}',
	browser_config_json     TEXT NOT NULL DEFAULT '{}'
);

CREATE TABLE requests (
	id                INTEGER PRIMARY KEY AUTOINCREMENT,
	status            TEXT NOT NULL,
	priority          INTEGER NOT NULL DEFAULT 9,
	queue_counter     INTEGER NOT NULL,
	kind              TEXT NOT NULL,
	method            TEXT NOT NULL DEFAULT 'GET',
	url               TEXT NOT NULL,
	headers_json      TEXT NOT NULL DEFAULT '{}',
	cookies_json      TEXT NOT NULL DEFAULT '{}',
	body              BLOB,
	continuation      TEXT NOT NULL DEFAULT '',
	current_location  TEXT NOT NULL DEFAULT '',
	accumulated_json  TEXT NOT NULL DEFAULT '{}',
	aux_json          TEXT NOT NULL DEFAULT '{}',
	permanent_json    TEXT NOT NULL DEFAULT '{}',
	dedup_key         TEXT,
	parent_request_id INTEGER REFERENCES requests(id),
	is_speculative    INTEGER NOT NULL DEFAULT 0,
	speculation_key   TEXT,
	speculation_int   INTEGER,
	expected_type     TEXT NOT NULL DEFAULT '',
	retry_count       INTEGER NOT NULL DEFAULT 0,
	cumulative_backoff_ns INTEGER NOT NULL DEFAULT 0,
	next_retry_delay_ns   INTEGER NOT NULL DEFAULT 0,
	last_error        TEXT NOT NULL DEFAULT '',
	not_before_ns     INTEGER,
	created_at_ns     INTEGER NOT NULL,
	started_at_ns     INTEGER,
	completed_at_ns   INTEGER
);
CREATE UNIQUE INDEX idx_requests_dedup_key ON requests(dedup_key) WHERE dedup_key IS NOT NULL;
CREATE INDEX idx_requests_dequeue ON requests(status, priority, queue_counter);
CREATE INDEX idx_requests_continuation ON requests(continuation);
CREATE INDEX idx_requests_parent ON requests(parent_request_id);
CREATE INDEX idx_requests_speculation ON requests(speculation_key, speculation_int);

CREATE TABLE responses (
	id                      INTEGER PRIMARY KEY AUTOINCREMENT,
	request_id              INTEGER NOT NULL UNIQUE REFERENCES requests(id) ON DELETE CASCADE,
	status_code             INTEGER NOT NULL,
	headers_json            TEXT NOT NULL DEFAULT '{}',
	url                     TEXT NOT NULL,
	content_compressed      BLOB NOT NULL,
	content_size_original   INTEGER NOT NULL,
	content_size_compressed INTEGER NOT NULL,
	compression_dict_id     INTEGER REFERENCES compression_dicts(id),
	continuation            TEXT NOT NULL DEFAULT '',
	created_at              INTEGER NOT NULL,
	warc_record_id          TEXT NOT NULL DEFAULT '',
	speculation_outcome     TEXT
);
CREATE INDEX idx_responses_continuation ON responses(continuation);

CREATE TABLE results (
	id                      INTEGER PRIMARY KEY AUTOINCREMENT,
	request_id              INTEGER REFERENCES requests(id) ON DELETE CASCADE,
	result_type             TEXT NOT NULL,
	data_json               TEXT NOT NULL,
	is_valid                INTEGER NOT NULL DEFAULT 1,
	validation_errors_json  TEXT,
	created_at              INTEGER NOT NULL
);
CREATE INDEX idx_results_request ON results(request_id);
CREATE INDEX idx_results_type ON results(result_type);

CREATE TABLE estimates (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	request_id     INTEGER NOT NULL REFERENCES requests(id) ON DELETE CASCADE,
	expected_types_json TEXT NOT NULL,
	min_count      INTEGER NOT NULL,
	max_count      INTEGER
);
CREATE INDEX idx_estimates_request ON estimates(request_id);

CREATE TABLE errors (
	id                      INTEGER PRIMARY KEY AUTOINCREMENT,
	request_id              INTEGER REFERENCES requests(id) ON DELETE SET NULL,
	error_type              TEXT NOT NULL,
	error_class             TEXT NOT NULL DEFAULT '',
	message                 TEXT NOT NULL,
	request_url             TEXT NOT NULL DEFAULT '',
	selector                TEXT,
	selector_type           TEXT,
	expected_min            INTEGER,
	expected_max            INTEGER,
	actual_count            INTEGER,
	model_name              TEXT,
	validation_errors_json  TEXT,
	failed_doc_json         TEXT,
	status_code             INTEGER,
	timeout_seconds         REAL,
	traceback               TEXT,
	is_resolved             INTEGER NOT NULL DEFAULT 0,
	resolved_at             INTEGER,
	resolution_notes        TEXT NOT NULL DEFAULT '',
	created_at              INTEGER NOT NULL
);
CREATE INDEX idx_errors_type ON errors(error_type);
CREATE INDEX idx_errors_resolved ON errors(is_resolved);

CREATE TABLE archived_files (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	request_id    INTEGER NOT NULL REFERENCES requests(id) ON DELETE CASCADE,
	file_path     TEXT NOT NULL,
	original_url  TEXT NOT NULL,
	expected_type TEXT NOT NULL DEFAULT '',
	file_size     INTEGER NOT NULL,
	content_hash  TEXT NOT NULL,
	created_at    INTEGER NOT NULL
);

CREATE TABLE compression_dicts (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	continuation    TEXT NOT NULL,
	version         INTEGER NOT NULL,
	dictionary_data BLOB NOT NULL,
	sample_count    INTEGER NOT NULL,
	created_at      INTEGER NOT NULL,
	UNIQUE(continuation, version)
);
CREATE INDEX idx_compression_dicts_continuation ON compression_dicts(continuation, version DESC);

CREATE TABLE speculation_state (
	slot_key              TEXT PRIMARY KEY,
	highest_successful_id INTEGER NOT NULL DEFAULT 0,
	consecutive_failures  INTEGER NOT NULL DEFAULT 0,
	current_ceiling       INTEGER NOT NULL DEFAULT 0,
	stopped               INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE rate_limiter_state (
	id                    INTEGER PRIMARY KEY CHECK (id = 1),
	tokens                REAL NOT NULL,
	rate                  REAL NOT NULL,
	bucket_size           REAL NOT NULL,
	last_congestion_rate  REAL,
	jitter_ns             INTEGER NOT NULL,
	last_used_at_ns       INTEGER NOT NULL,
	total_acquired        INTEGER NOT NULL DEFAULT 0,
	total_congestion_events INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE incidental_requests (
	id                      INTEGER PRIMARY KEY AUTOINCREMENT,
	parent_request_id       INTEGER NOT NULL REFERENCES requests(id) ON DELETE CASCADE,
	resource_type           TEXT NOT NULL DEFAULT '',
	method                  TEXT NOT NULL DEFAULT 'GET',
	url                     TEXT NOT NULL,
	headers_json            TEXT NOT NULL DEFAULT '{}',
	body                    BLOB,
	status_code             INTEGER,
	response_headers_json   TEXT NOT NULL DEFAULT '{}',
	content_compressed      BLOB,
	content_size_original   INTEGER NOT NULL DEFAULT 0,
	content_size_compressed INTEGER NOT NULL DEFAULT 0,
	compression_dict_id     INTEGER REFERENCES compression_dicts(id),
	started_at_ns           INTEGER NOT NULL DEFAULT 0,
	completed_at_ns         INTEGER NOT NULL DEFAULT 0,
	from_cache              INTEGER,
	failure_reason          TEXT NOT NULL DEFAULT '',
	created_at              INTEGER NOT NULL
);
CREATE INDEX idx_incidental_parent ON incidental_requests(parent_request_id);
`
