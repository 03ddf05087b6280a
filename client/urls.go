package client

// URLBuilder constructs the URLs of a package version on a feed.
type URLBuilder interface {
	Registry(name, version string) string
	Download(name, version string) string
	Symbols(name, version string) string
	PURL(name, version string) string
}

// BaseURLs is a URLBuilder assembled from functions. A nil function yields
// the empty string, meaning the feed does not offer that URL.
type BaseURLs struct {
	RegistryFn func(name, version string) string
	DownloadFn func(name, version string) string
	SymbolsFn  func(name, version string) string
	PURLFn     func(name, version string) string
}

func (b *BaseURLs) Registry(name, version string) string { return call(b.RegistryFn, name, version) }
func (b *BaseURLs) Download(name, version string) string { return call(b.DownloadFn, name, version) }
func (b *BaseURLs) Symbols(name, version string) string  { return call(b.SymbolsFn, name, version) }
func (b *BaseURLs) PURL(name, version string) string     { return call(b.PURLFn, name, version) }

func call(fn func(name, version string) string, name, version string) string {
	if fn == nil {
		return ""
	}
	return fn(name, version)
}
