package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// File represents a file shared through the box.
type File struct {
	ID            int64
	StoredName    string // unique name on disk
	OriginalName  string // name as uploaded
	Size          int64
	MimeType      string
	CreatedAt     time.Time
	DownloadCount int64
	UploaderAddr  string
	Description   string
	SHA256        string
}

// ChatMessage represents a persisted chat message.
type ChatMessage struct {
	ID        int64
	Username  string
	Message   string
	Room      string
	CreatedAt time.Time
	Addr      string
}

// Visitor tracks one client address across visits.
type Visitor struct {
	ID         int64
	Addr       string
	FirstVisit time.Time
	LastVisit  time.Time
	VisitCount int64
}

// Counter names maintained by the store.
const (
	CounterVisits         = "total_visits"
	CounterUniqueVisitors = "total_unique_visitors"
	CounterMessages       = "total_messages"
	CounterFilesUploaded  = "total_files_uploaded"
	CounterDownloads      = "total_downloads"
	CounterBytesUploaded  = "total_bytes_uploaded"
)

// MostDownloaded identifies the file with the highest download count.
type MostDownloaded struct {
	ID            int64  `json:"id"`
	Filename      string `json:"filename"`
	DownloadCount int64  `json:"download_count"`
}

// Totals is the durable half of a stats snapshot: named counters plus
// derived aggregates computed from the tables themselves.
type Totals struct {
	Counters       map[string]int64
	FilesCount     int64
	MessagesCount  int64
	VisitorsCount  int64
	TotalStorage   int64
	MostDownloaded *MostDownloaded
}

// FileStore handles file metadata persistence.
type FileStore interface {
	// AddFile records an uploaded file and bumps the upload counters.
	AddFile(ctx context.Context, f *File) (*File, error)

	// FileByID retrieves a file record by ID.
	FileByID(ctx context.Context, id int64) (*File, error)

	// FileByStoredName retrieves a file record by its on-disk name.
	FileByStoredName(ctx context.Context, name string) (*File, error)

	// FileByHash retrieves a file record by content hash.
	FileByHash(ctx context.Context, hash string) (*File, error)

	// ListFiles returns file records newest first.
	ListFiles(ctx context.Context, limit, offset int) ([]*File, error)

	// IncrementDownloads bumps a file's download count and the global
	// download counter, returning the updated record.
	IncrementDownloads(ctx context.Context, id int64) (*File, error)

	// DeleteFile removes a file record.
	DeleteFile(ctx context.Context, id int64) error
}

// ChatStore handles chat message persistence.
type ChatStore interface {
	// AddMessage persists a chat message and bumps the message counter.
	AddMessage(ctx context.Context, username, message, room, addr string) (*ChatMessage, error)

	// RecentMessages returns up to limit messages for a room, newest first.
	RecentMessages(ctx context.Context, room string, limit int) ([]*ChatMessage, error)
}

// VisitorStore handles visitor bookkeeping.
type VisitorStore interface {
	// RecordVisit upserts a visitor by address and bumps the visit counters.
	RecordVisit(ctx context.Context, addr string) (*Visitor, error)
}

// StatsStore handles the named counters and aggregate queries.
type StatsStore interface {
	// IncrementCounter adds amount to a named counter.
	IncrementCounter(ctx context.Context, name string, amount int64) error

	// Totals reads all counters and derived aggregates.
	Totals(ctx context.Context) (*Totals, error)
}

// Store aggregates all storage interfaces.
type Store interface {
	FileStore
	ChatStore
	VisitorStore
	StatsStore

	// Close closes the underlying database connection.
	Close() error
}
