package encryption

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	log "github.com/sirupsen/logrus"
	"golang.org/x/crypto/acme/autocert"
)

// CreateCertManager prepares a Let's Encrypt certificate manager for the given domains.
// Certificates are cached under datadir/letsencrypt.
func CreateCertManager(datadir string, letsencryptDomains ...string) (*autocert.Manager, error) {
	if len(letsencryptDomains) == 0 {
		return nil, errors.New("no domains configured for Let's Encrypt")
	}

	certDir := filepath.Join(datadir, "letsencrypt")
	if err := os.MkdirAll(certDir, 0o700); err != nil {
		return nil, fmt.Errorf("failed creating Let's Encrypt cert dir %s: %w", certDir, err)
	}

	log.Infof("running with Let's Encrypt for domains %v. Certs will be stored in %s", letsencryptDomains, certDir)

	return &autocert.Manager{
		Prompt:     autocert.AcceptTOS,
		Cache:      autocert.DirCache(certDir),
		HostPolicy: autocert.HostWhitelist(letsencryptDomains...),
	}, nil
}
