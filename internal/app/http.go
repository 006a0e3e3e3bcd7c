package app

import (
	"net/http"

	"parley/pkg/api"
	"parley/pkg/auth"
	"parley/pkg/banner"
)

// printBanner prints the startup banner and build info.
func (a *App) printBanner() {
	verStr := a.version
	if a.commit != "" && a.commit != "none" {
		verStr += " (" + a.commit + ")"
	}
	if a.buildDate != "" && a.buildDate != "unknown" {
		verStr += " @ " + a.buildDate
	}
	banner.Print(a.eff, verStr)
}

// startHTTP builds the handler, starts the server in a goroutine and
// returns a channel carrying any fatal server error.
func (a *App) startHTTP() <-chan error {
	secCfg := auth.SecConfig{
		AllowedOrigins: append([]string{}, a.eff.Config.Security.AllowedOrigins...),
		RPS:            a.eff.Config.Security.RateLimit.RPS,
		Burst:          a.eff.Config.Security.RateLimit.Burst,
	}

	a.srv = &http.Server{Addr: a.eff.Addr, Handler: api.NewRouter(a.mgr, secCfg)}

	errCh := make(chan error, 1)
	go func() {
		cert := a.eff.Config.Server.TLS.CertFile
		key := a.eff.Config.Server.TLS.KeyFile
		if cert != "" && key != "" {
			errCh <- a.srv.ListenAndServeTLS(cert, key)
		} else {
			errCh <- a.srv.ListenAndServe()
		}
	}()
	return errCh
}
