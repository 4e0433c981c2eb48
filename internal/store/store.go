// Package store persists packet records in SQLite and answers the fuzzy
// queries of the query mode.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	_ "github.com/mattn/go-sqlite3"

	"sharkline/internal/models"
)

const createPacketTable = `
CREATE TABLE IF NOT EXISTS t_packets (
	frame_number INTEGER PRIMARY KEY,
	time         REAL,
	cap_len      INTEGER,
	len          INTEGER,
	src_mac      TEXT,
	dst_mac      TEXT,
	src_ip       TEXT,
	src_location TEXT,
	src_port     INTEGER,
	dst_ip       TEXT,
	dst_location TEXT,
	dst_port     INTEGER,
	protocol     TEXT,
	info         TEXT,
	file_offset  INTEGER
)`

const insertPacket = `
INSERT INTO t_packets (
	frame_number, time, cap_len, len, src_mac, dst_mac, src_ip, src_location, src_port,
	dst_ip, dst_location, dst_port, protocol, info, file_offset
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

const selectPackets = `
SELECT frame_number, time, cap_len, len, src_mac, dst_mac, src_ip, src_location, src_port,
	dst_ip, dst_location, dst_port, protocol, info, file_offset
FROM t_packets`

// Store is a packet database.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the SQLite database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	// one writer; sqlite serializes anyway
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// CreatePacketTable creates t_packets if it does not exist.
func (s *Store) CreatePacketTable(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, createPacketTable); err != nil {
		return fmt.Errorf("store: create t_packets: %w", err)
	}
	return nil
}

// Reset deletes every stored packet.
func (s *Store) Reset(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM t_packets"); err != nil {
		return fmt.Errorf("store: reset: %w", err)
	}
	return nil
}

// InsertPackets writes recs in one transaction. Either every record is
// committed or none is.
func (s *Store) InsertPackets(ctx context.Context, recs []*models.PacketRecord) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin: %w", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	stmt, err := tx.PrepareContext(ctx, insertPacket)
	if err != nil {
		return fmt.Errorf("store: prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, r := range recs {
		_, err = stmt.ExecContext(ctx,
			r.FrameNumber, r.Timestamp, r.CapturedLength, r.WireLength,
			r.SrcMAC, r.DstMAC, r.SrcIP, r.SrcLocation, nullPort(r.SrcPort),
			r.DstIP, r.DstLocation, nullPort(r.DstPort),
			r.Protocol, r.Info, r.FileOffset,
		)
		if err != nil {
			return fmt.Errorf("store: insert frame %d: %w", r.FrameNumber, err)
		}
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("store: commit: %w", err)
	}
	return nil
}

func nullPort(p *uint16) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*p), Valid: true}
}

// QueryAll returns every stored packet ordered by frame number.
func (s *Store) QueryAll(ctx context.Context) ([]*models.PacketRecord, error) {
	return s.Query(ctx, models.QueryConditions{})
}

// Query returns the packets matching every non-empty condition. Each
// condition matches either the source or the destination column.
func (s *Store) Query(ctx context.Context, c models.QueryConditions) ([]*models.PacketRecord, error) {
	where, args, err := buildFuzzyQuery(c)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, selectPackets+where+" ORDER BY frame_number", args...)
	if err != nil {
		return nil, fmt.Errorf("store: query: %w", err)
	}
	defer rows.Close()

	var out []*models.PacketRecord
	for rows.Next() {
		var (
			r                models.PacketRecord
			srcPort, dstPort sql.NullInt64
		)
		err := rows.Scan(
			&r.FrameNumber, &r.Timestamp, &r.CapturedLength, &r.WireLength,
			&r.SrcMAC, &r.DstMAC, &r.SrcIP, &r.SrcLocation, &srcPort,
			&r.DstIP, &r.DstLocation, &dstPort,
			&r.Protocol, &r.Info, &r.FileOffset,
		)
		if err != nil {
			return nil, fmt.Errorf("store: scan: %w", err)
		}
		if srcPort.Valid {
			r.SrcPort = models.Port(uint16(srcPort.Int64))
		}
		if dstPort.Valid {
			r.DstPort = models.Port(uint16(dstPort.Int64))
		}
		out = append(out, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: query: %w", err)
	}
	return out, nil
}

// buildFuzzyQuery turns c into a WHERE clause. '*' becomes the LIKE
// wildcard; values are always bound, never spliced into the SQL.
func buildFuzzyQuery(c models.QueryConditions) (string, []any, error) {
	var (
		clauses []string
		args    []any
	)
	if c.MAC != "" {
		p := wildcard(c.MAC)
		clauses = append(clauses, "(src_mac LIKE ? OR dst_mac LIKE ?)")
		args = append(args, p, p)
	}
	if c.IP != "" {
		p := wildcard(c.IP)
		clauses = append(clauses, "(src_ip LIKE ? OR dst_ip LIKE ?)")
		args = append(args, p, p)
	}
	if c.Port != "" {
		p := wildcard(c.Port)
		if strings.Contains(p, "%") {
			clauses = append(clauses, "(CAST(src_port AS TEXT) LIKE ? OR CAST(dst_port AS TEXT) LIKE ?)")
			args = append(args, p, p)
		} else {
			n, err := strconv.ParseUint(p, 10, 16)
			if err != nil {
				return "", nil, fmt.Errorf("store: port condition %q: %w", c.Port, err)
			}
			clauses = append(clauses, "(src_port = ? OR dst_port = ?)")
			args = append(args, n, n)
		}
	}
	if c.Location != "" {
		p := wildcard(c.Location)
		if !strings.Contains(p, "%") {
			p = "%" + p + "%"
		}
		clauses = append(clauses, "(src_location LIKE ? OR dst_location LIKE ?)")
		args = append(args, p, p)
	}
	if len(clauses) == 0 {
		return "", nil, nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args, nil
}

func wildcard(s string) string {
	return strings.ReplaceAll(s, "*", "%")
}

// QueryJSON runs Query and encodes the result as {"total":n,"packets":[...]}.
func (s *Store) QueryJSON(ctx context.Context, c models.QueryConditions) ([]byte, error) {
	recs, err := s.Query(ctx, c)
	if err != nil {
		return nil, err
	}
	if recs == nil {
		recs = []*models.PacketRecord{}
	}
	return json.Marshal(models.QueryResult{Total: len(recs), Packets: recs})
}

// SaveQueryResult writes a QueryJSON document to path, replacing any
// existing file.
func SaveQueryResult(data []byte, path string) error {
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("store: save query result: %w", err)
	}
	return nil
}
