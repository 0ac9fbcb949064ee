package server

import (
	"strings"

	"github.com/samber/lo"

	pkgutil "github.com/faciam-dev/cssync/pkg/util"
)

// allowedOrigins reads the comma separated CORS allow list. Blank entries are
// dropped so a trailing comma does not open the API to every origin.
func allowedOrigins() []string {
	raw := pkgutil.GetEnv("CSSYNC_ALLOWED_ORIGINS", "http://localhost:3000")
	return lo.FilterMap(strings.Split(raw, ","), func(o string, _ int) (string, bool) {
		o = strings.TrimSpace(o)
		return o, o != ""
	})
}
