package app

import (
	"context"

	"github.com/befkir-pay/payment_layer/internal/app/events"
	grouppaysvc "github.com/befkir-pay/payment_layer/internal/app/services/grouppay"
	identitysvc "github.com/befkir-pay/payment_layer/internal/app/services/identity"
	ledgersvc "github.com/befkir-pay/payment_layer/internal/app/services/ledger"
	transfersvc "github.com/befkir-pay/payment_layer/internal/app/services/transfers"
	"github.com/befkir-pay/payment_layer/internal/app/storage"
	"github.com/befkir-pay/payment_layer/internal/app/storage/memory"
	"github.com/befkir-pay/payment_layer/internal/app/system"
	"github.com/befkir-pay/payment_layer/pkg/logger"
)

// Stores encapsulates persistence dependencies. Nil stores default to the
// in-memory implementation.
type Stores struct {
	Profiles      storage.ProfileStore
	Transfers     storage.TransferStore
	GroupPayments storage.GroupPaymentStore
	Ledger        storage.LedgerStore
}

// Application ties domain services together and manages their lifecycle.
type Application struct {
	manager *system.Manager
	log     *logger.Logger

	Events *events.RingBuffer

	Identity      *identitysvc.Service
	Ledger        *ledgersvc.Service
	Transfers     *transfersvc.Service
	GroupPayments *grouppaysvc.Service
}

// New builds a fully initialised application with the provided stores.
func New(stores Stores, log *logger.Logger) (*Application, error) {
	if log == nil {
		log = logger.NewDefault("app")
	}

	mem := memory.New()
	if stores.Profiles == nil {
		stores.Profiles = mem
	}
	if stores.Transfers == nil {
		stores.Transfers = mem
	}
	if stores.GroupPayments == nil {
		stores.GroupPayments = mem
	}
	if stores.Ledger == nil {
		stores.Ledger = mem
	}

	manager := system.NewManager()
	notifier := events.NewRingBuffer(1024)

	ledgerService := ledgersvc.New(stores.Ledger, log)
	identityService := identitysvc.New(stores.Profiles, notifier, log)
	transferService := transfersvc.New(stores.Transfers, ledgerService, notifier, log)
	groupPayService := grouppaysvc.New(stores.GroupPayments, ledgerService, notifier, log)

	return &Application{
		manager:       manager,
		log:           log,
		Events:        notifier,
		Identity:      identityService,
		Ledger:        ledgerService,
		Transfers:     transferService,
		GroupPayments: groupPayService,
	}, nil
}

// Attach registers an additional lifecycle-managed service. Call before Start.
func (a *Application) Attach(service system.Service) error {
	return a.manager.Register(service)
}

// Start begins all registered services.
func (a *Application) Start(ctx context.Context) error {
	return a.manager.Start(ctx)
}

// Stop stops all services.
func (a *Application) Stop(ctx context.Context) error {
	return a.manager.Stop(ctx)
}
