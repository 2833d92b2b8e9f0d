package registry

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ethereum/go-ethereum/common"
	_ "github.com/mattn/go-sqlite3"
)

const calibSchema = `
CREATE TABLE IF NOT EXISTS pool_calibration (
	pool_address    TEXT PRIMARY KEY,
	token0          TEXT NOT NULL,
	token1          TEXT NOT NULL,
	price_inversion INTEGER NOT NULL,
	calibrated_at   INTEGER NOT NULL
);`

// PoolCalibration is one probed pool ordering result.
type PoolCalibration struct {
	Pool           common.Address
	Token0         common.Address
	Token1         common.Address
	PriceInversion bool
	CalibratedAt   time.Time
}

// CalibDB persists pool orientation probes so the engine can trust a
// per-pool flag instead of magnitude-sniffing the price at runtime.
type CalibDB struct {
	db *sql.DB
}

func OpenCalibDB(dbPath string) (*CalibDB, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create calibration dir: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open calibration db: %w", err)
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	if _, err := db.Exec(calibSchema); err != nil {
		return nil, fmt.Errorf("failed to initialise schema: %w", err)
	}

	return &CalibDB{db: db}, nil
}

func (c *CalibDB) Close() error {
	return c.db.Close()
}

func (c *CalibDB) Get(pool common.Address) (*PoolCalibration, bool) {
	var (
		token0, token1 string
		inversion      int
		calibratedAt   int64
	)
	err := c.db.QueryRow(
		"SELECT token0, token1, price_inversion, calibrated_at FROM pool_calibration WHERE pool_address = ?",
		pool.Hex(),
	).Scan(&token0, &token1, &inversion, &calibratedAt)

	if err == sql.ErrNoRows {
		return nil, false
	}
	if err != nil {
		return nil, false
	}

	return &PoolCalibration{
		Pool:           pool,
		Token0:         common.HexToAddress(token0),
		Token1:         common.HexToAddress(token1),
		PriceInversion: inversion != 0,
		CalibratedAt:   time.Unix(calibratedAt, 0),
	}, true
}

func (c *CalibDB) Put(cal PoolCalibration) error {
	inversion := 0
	if cal.PriceInversion {
		inversion = 1
	}
	_, err := c.db.Exec(
		"INSERT OR REPLACE INTO pool_calibration (pool_address, token0, token1, price_inversion, calibrated_at) VALUES (?, ?, ?, ?, ?)",
		cal.Pool.Hex(), cal.Token0.Hex(), cal.Token1.Hex(), inversion, cal.CalibratedAt.Unix(),
	)
	return err
}

// Flags returns pool -> inversion for every cached calibration.
func (c *CalibDB) Flags() (map[common.Address]bool, error) {
	rows, err := c.db.Query("SELECT pool_address, price_inversion FROM pool_calibration")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	flags := make(map[common.Address]bool)
	for rows.Next() {
		var pool string
		var inversion int
		if err := rows.Scan(&pool, &inversion); err != nil {
			return nil, err
		}
		flags[common.HexToAddress(pool)] = inversion != 0
	}
	return flags, rows.Err()
}
