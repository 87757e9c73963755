package store

const schema = `
CREATE TABLE IF NOT EXISTS divergences (
  id INTEGER PRIMARY KEY,
  block_number INTEGER NOT NULL,
  tx_index      INTEGER NOT NULL,
  tx_hash       BLOB     NOT NULL,
  timestamp     INTEGER  NOT NULL,
  types         TEXT     NOT NULL,
  normal_gas_used        INTEGER NOT NULL,
  experimental_gas_used  INTEGER NOT NULL,
  gas_multiplier         INTEGER NOT NULL,
  gas_efficiency_ratio   REAL    NOT NULL,
  normal_ops_json        TEXT,
  experimental_ops_json  TEXT,
  location_json          TEXT,
  oog_json                TEXT,
  call_trees_json        TEXT,
  event_logs_json        TEXT
);
CREATE INDEX IF NOT EXISTS idx_block ON divergences(block_number);
CREATE INDEX IF NOT EXISTS idx_types ON divergences(types);

CREATE TABLE IF NOT EXISTS gas_loops (
  contract TEXT NOT NULL,
  selector TEXT NOT NULL,
  first_block INTEGER NOT NULL,
  observed_threshold REAL NOT NULL,
  PRIMARY KEY (contract, selector)
);
`
