package podds

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"

	"github.com/richard-senior/podds/internal/logger"
	_ "modernc.org/sqlite"
)

// ErrRecordNotFound is returned by FindByPrimaryKey when no row matches
var ErrRecordNotFound = errors.New("record not found")

// Persistable interface defines methods that persistent objects must implement.
// Columns are described with struct tags: column, dbtype, primary and index.
type Persistable interface {
	GetTableName() string
	GetPrimaryKey() map[string]any
	BeforeSave() error
}

// queryer is satisfied by both *sql.DB and *sql.Tx
type queryer interface {
	Exec(query string, args ...any) (sql.Result, error)
	Query(query string, args ...any) (*sql.Rows, error)
	QueryRow(query string, args ...any) *sql.Row
}

// Store is the embedded sqlite database holding the mutable engine state.
// All writes go through a single connection so concurrent writers are serialised.
type Store struct {
	db   *sql.DB
	path string
	mu   sync.Mutex
}

// OpenStore opens (creating if needed) the sqlite database at path. ":memory:" is allowed.
func OpenStore(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// one connection: a single writer, and one shared in-memory database
	db.SetMaxOpenConns(1)

	if err = db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	logger.Info("Database initialized successfully", path)
	return &Store{db: db, path: path}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Path returns the location the store was opened from
func (s *Store) Path() string {
	return s.path
}

// Tx is a store transaction. Persistence helpers accept either a Store or a Tx.
type Tx struct {
	tx *sql.Tx
}

// WithTx runs fn inside a transaction, committing when fn returns nil.
// Transactions are serialised; fn must not call WithTx again.
func (s *Store) WithTx(fn func(tx *Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&Tx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// CreateTables creates tables (and indexes) for each persistable
func (s *Store) CreateTables(objs ...Persistable) error {
	for _, obj := range objs {
		if err := s.CreateTable(obj); err != nil {
			return err
		}
	}
	return nil
}

// CreateTable creates a table for the given persistable object using struct tags
func (s *Store) CreateTable(obj Persistable) error {
	tableName := obj.GetTableName()
	createSQL := generateCreateTableSQL(obj, tableName)
	logger.Debug("Creating table with SQL", createSQL)

	if _, err := s.db.Exec(createSQL); err != nil {
		return fmt.Errorf("failed to create table %s: %w", tableName, err)
	}
	for _, query := range generateIndexSQL(obj, tableName) {
		if _, err := s.db.Exec(query); err != nil {
			logger.Warn("Failed to create index", err)
		}
	}
	return nil
}

// generateCreateTableSQL generates CREATE TABLE SQL from struct tags
func generateCreateTableSQL(obj any, tableName string) string {
	var columns []string
	var primaryKeys []string

	eachColumn(reflect.TypeOf(obj), func(field reflect.StructField, column string) {
		dbType := field.Tag.Get("dbtype")
		if field.Tag.Get("primary") == "true" {
			primaryKeys = append(primaryKeys, column)
		}
		columns = append(columns, fmt.Sprintf("%s %s", column, dbType))
	})

	if len(primaryKeys) > 0 {
		columns = append(columns, fmt.Sprintf("PRIMARY KEY (%s)", strings.Join(primaryKeys, ", ")))
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", tableName, strings.Join(columns, ", "))
}

// generateIndexSQL generates index creation SQL from struct tags
func generateIndexSQL(obj any, tableName string) []string {
	var indexSQL []string
	eachColumn(reflect.TypeOf(obj), func(field reflect.StructField, column string) {
		if field.Tag.Get("index") != "true" {
			return
		}
		indexName := fmt.Sprintf("idx_%s_%s", tableName, column)
		indexSQL = append(indexSQL, fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s(%s)", indexName, tableName, column))
	})
	return indexSQL
}

// eachColumn visits every exported field carrying a dbtype tag
func eachColumn(t reflect.Type, fn func(field reflect.StructField, column string)) {
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if !field.IsExported() || field.Tag.Get("dbtype") == "" {
			continue
		}
		column := field.Tag.Get("column")
		if column == "" {
			column = strings.ToLower(field.Name)
		}
		fn(field, column)
	}
}

// Save persists the object outside of any explicit transaction
func (s *Store) Save(obj Persistable) error {
	return s.WithTx(func(tx *Tx) error {
		return tx.Save(obj)
	})
}

// Save persists the object (INSERT or UPDATE) inside the transaction
func (t *Tx) Save(obj Persistable) error {
	return save(t.tx, obj)
}

func save(q queryer, obj Persistable) error {
	if err := obj.BeforeSave(); err != nil {
		return fmt.Errorf("before save hook failed: %w", err)
	}
	exists, err := exists(q, obj)
	if err != nil {
		return fmt.Errorf("failed to check existence: %w", err)
	}
	if exists {
		return update(q, obj)
	}
	return insert(q, obj)
}

// insert adds a new record to the database
func insert(q queryer, obj Persistable) error {
	tableName := obj.GetTableName()
	var columns, placeholders []string
	var values []any

	v := reflect.Indirect(reflect.ValueOf(obj))
	eachColumn(v.Type(), func(field reflect.StructField, column string) {
		columns = append(columns, column)
		placeholders = append(placeholders, "?")
		values = append(values, v.FieldByIndex(field.Index).Interface())
	})

	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		tableName, strings.Join(columns, ", "), strings.Join(placeholders, ", "))
	if _, err := q.Exec(query, values...); err != nil {
		return fmt.Errorf("failed to insert into %s: %w", tableName, err)
	}
	return nil
}

// update modifies an existing record in the database
func update(q queryer, obj Persistable) error {
	tableName := obj.GetTableName()
	var setPairs []string
	var values []any

	v := reflect.Indirect(reflect.ValueOf(obj))
	eachColumn(v.Type(), func(field reflect.StructField, column string) {
		if field.Tag.Get("primary") == "true" {
			return
		}
		setPairs = append(setPairs, fmt.Sprintf("%s = ?", column))
		values = append(values, v.FieldByIndex(field.Index).Interface())
	})

	whereClause, whereValues := buildWhereClause(obj.GetPrimaryKey())
	values = append(values, whereValues...)

	query := fmt.Sprintf("UPDATE %s SET %s WHERE %s", tableName, strings.Join(setPairs, ", "), whereClause)
	if _, err := q.Exec(query, values...); err != nil {
		return fmt.Errorf("failed to update %s: %w", tableName, err)
	}
	return nil
}

func exists(q queryer, obj Persistable) (bool, error) {
	tableName := obj.GetTableName()
	whereClause, values := buildWhereClause(obj.GetPrimaryKey())

	var count int
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s", tableName, whereClause)
	if err := q.QueryRow(query, values...).Scan(&count); err != nil {
		return false, fmt.Errorf("failed to check existence in %s: %w", tableName, err)
	}
	return count > 0, nil
}

// Exec runs a raw statement inside the transaction
func (t *Tx) Exec(query string, args ...any) error {
	_, err := t.tx.Exec(query, args...)
	return err
}

// getSelectData extracts column names and scan destinations for SELECT
func getSelectData(obj any) ([]string, []any) {
	var columns []string
	var destinations []any

	v := reflect.Indirect(reflect.ValueOf(obj))
	eachColumn(v.Type(), func(field reflect.StructField, column string) {
		columns = append(columns, column)
		destinations = append(destinations, v.FieldByIndex(field.Index).Addr().Interface())
	})
	return columns, destinations
}

// FindByPrimaryKey loads the row matching primaryKey into obj
func (s *Store) FindByPrimaryKey(obj Persistable, primaryKey map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return findByPrimaryKey(s.db, obj, primaryKey)
}

// FindByPrimaryKey loads the row matching primaryKey into obj inside the transaction
func (t *Tx) FindByPrimaryKey(obj Persistable, primaryKey map[string]any) error {
	return findByPrimaryKey(t.tx, obj, primaryKey)
}

func findByPrimaryKey(q queryer, obj Persistable, primaryKey map[string]any) error {
	tableName := obj.GetTableName()
	columns, destinations := getSelectData(obj)
	whereClause, values := buildWhereClause(primaryKey)

	query := fmt.Sprintf("SELECT %s FROM %s WHERE %s", strings.Join(columns, ", "), tableName, whereClause)
	err := q.QueryRow(query, values...).Scan(destinations...)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w in %s", ErrRecordNotFound, tableName)
	}
	if err != nil {
		return fmt.Errorf("failed to scan row from %s: %w", tableName, err)
	}
	return nil
}

// FindWhere executes a custom WHERE query. An empty clause selects every row.
func FindWhere[T any, PT interface {
	*T
	Persistable
}](s *Store, whereClause string, args ...any) ([]*T, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var zero T
	tableName := PT(&zero).GetTableName()
	columns, _ := getSelectData(&zero)

	query := fmt.Sprintf("SELECT %s FROM %s", strings.Join(columns, ", "), tableName)
	if whereClause != "" {
		query += " WHERE " + whereClause
	}
	logger.Debug("FindWhere SQL", query)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", tableName, err)
	}
	defer rows.Close()

	var results []*T
	for rows.Next() {
		item := new(T)
		_, destinations := getSelectData(item)
		if err := rows.Scan(destinations...); err != nil {
			return nil, fmt.Errorf("failed to scan row from %s: %w", tableName, err)
		}
		results = append(results, item)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows from %s: %w", tableName, err)
	}
	return results, nil
}

// FindAll retrieves all records of the given type
func FindAll[T any, PT interface {
	*T
	Persistable
}](s *Store) ([]*T, error) {
	return FindWhere[T, PT](s, "")
}

// buildWhereClause builds a WHERE clause from a primary key map, in column order
func buildWhereClause(primaryKey map[string]any) (string, []any) {
	var conditions []string
	var values []any
	for _, column := range sortedKeys(primaryKey) {
		conditions = append(conditions, fmt.Sprintf("%s = ?", column))
		values = append(values, primaryKey[column])
	}
	return strings.Join(conditions, " AND "), values
}

// Count returns the number of rows of obj's table matching the WHERE clause (all rows when empty)
func (s *Store) Count(obj Persistable, whereClause string, args ...any) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := fmt.Sprintf("SELECT COUNT(*) FROM %s", obj.GetTableName())
	if whereClause != "" {
		query += " WHERE " + whereClause
	}
	var count int
	if err := s.db.QueryRow(query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count %s: %w", obj.GetTableName(), err)
	}
	return count, nil
}
