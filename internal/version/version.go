package version

// Version is overridden at build time with
// -ldflags "-X github.com/tom-doerr/perplexity_search/internal/version.Version=v0.2.0".
var Version = "v0.1.7"

// Module is the import path used by `plexsearch update`.
const Module = "github.com/tom-doerr/perplexity_search"
