package tokens

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// A Record is the persisted token row. At most one row exists; every
// successful update replaces it wholesale.
type Record struct {
	AccessTokenIssued  time.Time `gorm:"not null"`
	RefreshTokenIssued time.Time `gorm:"not null"`
	AccessToken        string    `gorm:"not null"`
	RefreshToken       string    `gorm:"not null"`
	IDToken            string    `gorm:"not null"`
	ExpiresIn          int
	TokenType          string
	Scope              string
}

func (Record) TableName() string { return "tokens" }

// Store persists the Record in a database shared by every process using the
// same credentials. Cross-process mutual exclusion relies on sqlite exclusive
// transactions, so concurrent writers in other processes are blocked for the
// duration of an Exclusive call.
type Store struct {
	db     *gorm.DB
	cipher *Cipher
}

func NewStore(db *gorm.DB, cipher *Cipher) (*Store, error) {
	if db == nil {
		return nil, errors.New("tokens: store requires a database")
	}
	if err := db.AutoMigrate(&Record{}); err != nil {
		return nil, fmt.Errorf("tokens: migrate token store: %w", err)
	}
	return &Store{db: db, cipher: cipher}, nil
}

// Load returns the stored record with token material decrypted, or (nil, nil)
// when no row exists yet.
func (s *Store) Load() (*Record, error) {
	return s.load(s.db)
}

func (s *Store) load(tx *gorm.DB) (*Record, error) {
	var rec Record
	if err := tx.First(&rec).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	var err error
	if rec.AccessToken, err = s.cipher.Open(rec.AccessToken); err != nil {
		return nil, err
	}
	if rec.RefreshToken, err = s.cipher.Open(rec.RefreshToken); err != nil {
		return nil, err
	}
	return &rec, nil
}

// Exclusive runs fn inside a BEGIN EXCLUSIVE transaction pinned to a single
// connection, blocking every other reader and writer of the store until fn
// returns. A non-nil error from fn rolls the transaction back, so no partial
// state is ever persisted.
func (s *Store) Exclusive(fn func(tx *Tx) error) error {
	return s.db.Connection(func(conn *gorm.DB) error {
		if err := conn.Exec("BEGIN EXCLUSIVE").Error; err != nil {
			return fmt.Errorf("tokens: could not take exclusive store lock: %w", err)
		}
		// The statements inside fn must run on the same pinned connection but
		// on a fresh session: sqlite rejects gorm's per-statement transaction
		// inside the exclusive one, and a materialized handle would carry a
		// not-found result from Load into the following statement.
		sess := conn.Session(&gorm.Session{NewDB: true, SkipDefaultTransaction: true})
		if err := fn(&Tx{store: s, conn: sess}); err != nil {
			conn.Exec("ROLLBACK")
			return err
		}
		return conn.Exec("COMMIT").Error
	})
}

// Tx is a handle on an open exclusive transaction.
type Tx struct {
	store *Store
	conn  *gorm.DB
}

// Load re-reads the row inside the transaction.
func (tx *Tx) Load() (*Record, error) {
	return tx.store.load(tx.conn)
}

// Replace overwrites the single row with rec, sealing token material when a
// cipher is configured.
func (tx *Tx) Replace(rec *Record) error {
	stored := *rec
	var err error
	if stored.AccessToken, err = tx.store.cipher.Seal(stored.AccessToken); err != nil {
		return err
	}
	if stored.RefreshToken, err = tx.store.cipher.Seal(stored.RefreshToken); err != nil {
		return err
	}
	if err := tx.conn.Exec("DELETE FROM tokens").Error; err != nil {
		return err
	}
	return tx.conn.Create(&stored).Error
}
