package handlers

import (
	"github.com/feichai0017/remi2ai/internal/service/invoice"
	"github.com/feichai0017/remi2ai/internal/session"
	"github.com/feichai0017/remi2ai/internal/staging"
	"github.com/feichai0017/remi2ai/pkg/logger"
)

type Handlers struct {
	Auth    *AuthHandler
	Staging *StagingHandler
	Invoice *InvoiceHandler
}

type Deps struct {
	Sessions     *session.Manager
	OAuth        *session.OAuth
	PostLoginURL string
	Staging      *staging.Manager
	Invoices     invoice.InvoiceProcessor
	Events       EventSource
}

func NewHandlers(deps Deps, log logger.Logger) *Handlers {
	return &Handlers{
		Auth:    NewAuthHandler(deps.Sessions, deps.Staging, deps.OAuth, deps.PostLoginURL, log.Named("auth")),
		Staging: NewStagingHandler(deps.Staging, log.Named("staging")),
		Invoice: NewInvoiceHandler(deps.Invoices, deps.Events, log.Named("invoice")),
	}
}
