package banner

import (
	"fmt"

	"parley/pkg/config"
)

const banner = `
██████╗  █████╗ ██████╗ ██╗     ███████╗██╗   ██╗
██╔══██╗██╔══██╗██╔══██╗██║     ██╔════╝╚██╗ ██╔╝
██████╔╝███████║██████╔╝██║     █████╗   ╚████╔╝
██╔═══╝ ██╔══██║██╔══██╗██║     ██╔══╝    ╚██╔╝
██║     ██║  ██║██║  ██║███████╗███████╗   ██║
╚═╝     ╚═╝  ╚═╝╚═╝  ╚═╝╚══════╝╚══════╝   ╚═╝
`

// Print renders the startup banner from the effective configuration.
func Print(eff config.EffectiveConfigResult, version string) {
	addr := eff.Addr
	if addr == "" && eff.Config != nil {
		addr = eff.Config.Addr()
	}
	src := eff.Source
	if src == "" {
		src = "flags"
	}

	fmt.Print(banner)
	fmt.Println("== Config =====================================================")
	fmt.Printf("Listen:   %s\n", addr)
	fmt.Printf("DB Path:  %s\n", eff.DBPath)
	if version != "" {
		fmt.Printf("Version:  %s\n", version)
	}
	fmt.Printf("Config:   %s\n", src)

	fmt.Println("\n== Examples ===================================================")
	fmt.Println("curl -X POST 'http://<host>:<port>/v1/conversations/a1/messages' \\")
	fmt.Println("  -H 'X-User-ID: a1' -H 'X-Role-Name: agent' -d '{\"content\":\"hello\"}'")
	fmt.Println("curl 'http://<host>:<port>/v1/conversations/a1/messages' \\")
	fmt.Println("  -H 'X-User-ID: a1' -H 'X-Role-Name: agent'")

	fmt.Println("\n== Production? ================================================")
	if eff.Config != nil && len(eff.Config.Security.SigningKeys) > 0 {
		fmt.Printf("- Signing keys: OK (%d)\n", len(eff.Config.Security.SigningKeys))
	} else {
		fmt.Println("- Signing keys: MISSING (identity headers are trusted as-is)")
	}
	if eff.Config != nil && eff.Config.Server.TLS.CertFile != "" && eff.Config.Server.TLS.KeyFile != "" {
		fmt.Println("- TLS: configured")
	} else {
		fmt.Println("- TLS: unconfigured")
	}
	if eff.Config != nil && eff.Config.Retention.Enabled {
		info := "period=" + eff.Config.Retention.Period
		if eff.Config.Retention.Cron != "" {
			info = "cron=" + eff.Config.Retention.Cron
		}
		fmt.Printf("- Retention: enabled (%s)\n", info)
	} else {
		fmt.Println("- Retention: disabled")
	}

	fmt.Println("\n== Logs =======================================================")
}
