package storage

import (
	"errors"

	"selfray/internal/models"
)

var (
	// ErrNotFound means a referenced inbound, client or admin does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict means a unique constraint (inbound tag) was violated.
	ErrConflict = errors.New("conflict")
)

// Store is the shared data-access contract between the web layer, the
// supervisor, the reconciler and the bot. Implementations must be safe for
// concurrent use; every read reflects the latest committed write.
type Store interface {
	GetSetting(key, fallback string) (string, error)
	SetSetting(key, value string) error

	GetAdmin(username string) (models.Admin, error)
	FirstAdmin() (models.Admin, error)
	CreateAdmin(username, passwordHash string) error
	UpdateAdminPassword(username, passwordHash string) error
	CountAdmins() (int, error)

	CreateInbound(inb models.Inbound) (int64, error)
	GetInbound(id int64) (models.Inbound, error)
	ListInbounds() ([]models.Inbound, error)
	ListEnabledInbounds() ([]models.Inbound, error)
	UpdateInbound(inb models.Inbound) error
	ToggleInbound(id int64) (bool, error)
	DeleteInbound(id int64) error
	CountInbounds() (int, error)

	CreateClient(c models.Client) error
	GetClient(id string) (models.Client, error)
	ListClients(inboundID int64) ([]models.Client, error)
	ListEnabledClients(inboundID int64) ([]models.Client, error)
	ListAllEnabledClients() ([]models.Client, error)
	UpdateClient(c models.Client) error
	DeleteClient(id string) error
	ResetClientTraffic(id string) error
	AddClientUsage(id string, upload, download int64) error
	DisableClients(ids []string) error
	CountClients() (int, error)

	Close() error
}
