// Package catalog persists fetched tool schemas so code generation and
// search can run without re-contacting servers.
package catalog

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/davefern/mcpforge/internal/mcp"
)

// Server is one catalogued MCP server and the outcome of its last
// schema fetch.
type Server struct {
	Name            string        `json:"name"`
	BaseURL         string        `json:"base_url"`
	Transport       mcp.Transport `json:"transport"`
	ProtocolVersion string        `json:"protocol_version"`
	FetchedAt       time.Time     `json:"fetched_at"`
	ToolCount       int           `json:"tool_count"`
}

// Store manages catalog persistence.
type Store struct {
	db *sql.DB
}

// NewStore creates a catalog store using the given database path.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// NewStoreWithDB creates a catalog store using an existing database
// connection.
func NewStoreWithDB(db *sql.DB) (*Store, error) {
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS servers (
			name TEXT PRIMARY KEY,
			base_url TEXT NOT NULL,
			transport TEXT NOT NULL,
			protocol_version TEXT NOT NULL,
			fetched_at TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS tools (
			server TEXT NOT NULL,
			name TEXT NOT NULL,
			description TEXT,
			input_schema TEXT NOT NULL,
			PRIMARY KEY (server, name),
			FOREIGN KEY (server) REFERENCES servers(name) ON DELETE CASCADE
		);

		CREATE INDEX IF NOT EXISTS idx_tools_server ON tools(server);
	`)
	return err
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveServer records a schema fetch: the server row is upserted and its
// tool set replaced wholesale, atomically.
func (s *Store) SaveServer(srv Server, tools []mcp.ToolDefinition) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	fetchedAt := srv.FetchedAt
	if fetchedAt.IsZero() {
		fetchedAt = time.Now().UTC()
	}

	_, err = tx.Exec(`
		INSERT INTO servers (name, base_url, transport, protocol_version, fetched_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			base_url = excluded.base_url,
			transport = excluded.transport,
			protocol_version = excluded.protocol_version,
			fetched_at = excluded.fetched_at
	`, srv.Name, srv.BaseURL, string(srv.Transport), srv.ProtocolVersion, fetchedAt.Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("upsert server: %w", err)
	}

	if _, err := tx.Exec(`DELETE FROM tools WHERE server = ?`, srv.Name); err != nil {
		return fmt.Errorf("clear old tools: %w", err)
	}

	for _, tool := range tools {
		schema, err := json.Marshal(tool.InputSchema)
		if err != nil {
			return fmt.Errorf("encode schema for %s: %w", tool.Name, err)
		}
		_, err = tx.Exec(`
			INSERT INTO tools (server, name, description, input_schema)
			VALUES (?, ?, ?, ?)
		`, srv.Name, tool.Name, tool.Description, string(schema))
		if err != nil {
			return fmt.Errorf("insert tool %s: %w", tool.Name, err)
		}
	}

	return tx.Commit()
}

// Servers lists all catalogued servers, most recently fetched first.
func (s *Store) Servers() ([]Server, error) {
	rows, err := s.db.Query(`
		SELECT s.name, s.base_url, s.transport, s.protocol_version, s.fetched_at,
			(SELECT COUNT(*) FROM tools t WHERE t.server = s.name)
		FROM servers s
		ORDER BY s.fetched_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("query servers: %w", err)
	}
	defer rows.Close()

	var servers []Server
	for rows.Next() {
		var srv Server
		var transport, fetchedAt string
		if err := rows.Scan(&srv.Name, &srv.BaseURL, &transport, &srv.ProtocolVersion, &fetchedAt, &srv.ToolCount); err != nil {
			return nil, fmt.Errorf("scan server: %w", err)
		}
		srv.Transport = mcp.Transport(transport)
		srv.FetchedAt, _ = time.Parse(time.RFC3339, fetchedAt)
		servers = append(servers, srv)
	}
	return servers, rows.Err()
}

// Tools returns the stored tool definitions of one server.
func (s *Store) Tools(server string) ([]mcp.ToolDefinition, error) {
	rows, err := s.db.Query(`
		SELECT name, description, input_schema FROM tools
		WHERE server = ? ORDER BY name
	`, server)
	if err != nil {
		return nil, fmt.Errorf("query tools: %w", err)
	}
	defer rows.Close()

	var tools []mcp.ToolDefinition
	for rows.Next() {
		var tool mcp.ToolDefinition
		var schema string
		if err := rows.Scan(&tool.Name, &tool.Description, &schema); err != nil {
			return nil, fmt.Errorf("scan tool: %w", err)
		}
		if err := json.Unmarshal([]byte(schema), &tool.InputSchema); err != nil {
			return nil, fmt.Errorf("decode schema for %s: %w", tool.Name, err)
		}
		tools = append(tools, tool)
	}
	return tools, rows.Err()
}

// DeleteServer removes a server and its tools.
func (s *Store) DeleteServer(name string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM tools WHERE server = ?`, name); err != nil {
		return fmt.Errorf("delete tools: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM servers WHERE name = ?`, name); err != nil {
		return fmt.Errorf("delete server: %w", err)
	}
	return tx.Commit()
}
