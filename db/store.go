// Package db persists normalized vulnerability records in a SQLite table and
// answers the count and lookup queries the reports are built from.
package db

import (
	"database/sql"
	"encoding/json"
	"strconv"

	"golang.org/x/xerrors"
	_ "modernc.org/sqlite"

	"github.com/vulnstats/nvd-cve-stats/cve"
)

// ErrNotFound is returned by GetRawByID when no record matches the identifier.
var ErrNotFound = xerrors.New("record not found")

const schema = `CREATE TABLE cves (
	sequenceNum INTEGER,
	id TEXT,
	lastModifiedDate TEXT,
	publishedDate TEXT,
	classification TEXT,
	severityV3 TEXT,
	severityV2 TEXT,
	impact TEXT,
	description TEXT,
	rawPayload TEXT
)`

type Store struct {
	db *sql.DB
}

func New(path string) (*Store, error) {
	d, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, xerrors.Errorf("unable to open database %s: %w", path, err)
	}
	if err = d.Ping(); err != nil {
		return nil, xerrors.Errorf("unable to reach database %s: %w", path, err)
	}
	return &Store{db: d}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// ReplaceAll rebuilds the cves table from the given records in a single
// transaction: drop, create, bulk insert, commit. Each import is a full
// rebuild, so any failure rolls back and leaves the previous table intact.
func (s *Store) ReplaceAll(records []cve.VulnerabilityRecord) error {
	tx, err := s.db.Begin()
	if err != nil {
		return xerrors.Errorf("unable to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err = tx.Exec(`DROP TABLE IF EXISTS cves`); err != nil {
		return xerrors.Errorf("unable to drop cves table: %w", err)
	}
	if _, err = tx.Exec(schema); err != nil {
		return xerrors.Errorf("unable to create cves table: %w", err)
	}

	stmt, err := tx.Prepare(`INSERT INTO cves VALUES (?,?,?,?,?,?,?,?,?,?)`)
	if err != nil {
		return xerrors.Errorf("unable to prepare insert: %w", err)
	}
	defer stmt.Close()

	for i, record := range records {
		description, err := json.Marshal(record.Descriptions)
		if err != nil {
			return xerrors.Errorf("unable to marshal descriptions of %s: %w", record.ID, err)
		}
		_, err = stmt.Exec(i+1, record.ID, record.LastModifiedDate, record.PublishedDate,
			string(record.Classification), string(record.CVSSV3Severity), string(record.CVSSV2Severity),
			string(record.Impact), string(description), string(record.RawPayload))
		if err != nil {
			return xerrors.Errorf("unable to insert %s: %w", record.ID, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return xerrors.Errorf("unable to commit: %w", err)
	}
	return nil
}

// Filter narrows Count to records matching all of its non-zero fields.
// Year compares against the leading year of the ISO published date.
type Filter struct {
	Year           int
	Classification cve.Classification
	SeverityV2     cve.Severity
	SeverityV3     cve.Severity
	Impact         cve.Severity
}

func (s *Store) Count(f Filter) (int, error) {
	query := `SELECT COUNT(sequenceNum) FROM cves WHERE 1=1`
	var args []interface{}

	if f.Year != 0 {
		query += ` AND substr(publishedDate, 1, 4) = ?`
		args = append(args, strconv.Itoa(f.Year))
	}
	if f.Classification != "" {
		query += ` AND classification = ?`
		args = append(args, string(f.Classification))
	}
	if f.SeverityV2 != "" {
		query += ` AND severityV2 = ?`
		args = append(args, string(f.SeverityV2))
	}
	if f.SeverityV3 != "" {
		query += ` AND severityV3 = ?`
		args = append(args, string(f.SeverityV3))
	}
	if f.Impact != "" {
		query += ` AND impact = ?`
		args = append(args, string(f.Impact))
	}

	var count int
	if err := s.db.QueryRow(query, args...).Scan(&count); err != nil {
		return 0, xerrors.Errorf("count query error: %w", err)
	}
	return count, nil
}

// GetRawByID returns the stored raw feed payload for one identifier.
func (s *Store) GetRawByID(id string) (json.RawMessage, error) {
	var payload string
	err := s.db.QueryRow(`SELECT rawPayload FROM cves WHERE id = ?`, id).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, xerrors.Errorf("%s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, xerrors.Errorf("lookup query error: %w", err)
	}
	return json.RawMessage(payload), nil
}
