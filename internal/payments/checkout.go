package payments

import (
	"context"
	"log/slog"
	"strconv"

	"github.com/google/uuid"

	"github.com/M-ajor19/quillify/internal/apperr"
)

// Metadata keys carried on a checkout session and read back by the reconciler.
const (
	MetaPrincipalID = "userId"
	MetaCredits     = "credits"
	MetaPackageID   = "packageId"
)

// SessionRequest is what a provider needs to open a hosted checkout page.
type SessionRequest struct {
	Package    Package
	Metadata   map[string]string
	SuccessURL string
	CancelURL  string
}

type CheckoutProvider interface {
	CreateSession(ctx context.Context, req SessionRequest) (url string, err error)
}

type CheckoutService struct {
	catalog  *Catalog
	provider CheckoutProvider
	appURL   string
	log      *slog.Logger
}

func NewCheckoutService(catalog *Catalog, provider CheckoutProvider, appURL string, log *slog.Logger) *CheckoutService {
	if log == nil {
		log = slog.Default()
	}
	return &CheckoutService{catalog: catalog, provider: provider, appURL: appURL, log: log}
}

func (s *CheckoutService) Packages() []Package { return s.catalog.Packages() }

// CreateSession returns the hosted checkout URL for packageID.
func (s *CheckoutService) CreateSession(ctx context.Context, principalID uuid.UUID, packageID string) (string, error) {
	pkg, err := s.catalog.Lookup(packageID)
	if err != nil {
		return "", apperr.Validation("invalid package")
	}

	url, err := s.provider.CreateSession(ctx, SessionRequest{
		Package: pkg,
		Metadata: map[string]string{
			MetaPrincipalID: principalID.String(),
			MetaCredits:     strconv.FormatInt(pkg.Credits, 10),
			MetaPackageID:   pkg.ID,
		},
		SuccessURL: s.appURL + "/studio?success=true",
		CancelURL:  s.appURL + "/studio?canceled=true",
	})
	if err != nil {
		s.log.Error("create checkout session failed", "principal_id", principalID, "package_id", pkg.ID, "error", err)
		return "", apperr.Infrastructure(err)
	}
	return url, nil
}
