// Package emote rewrites chat text with inline emote images and loads the
// third-party emote catalogs (BetterTTV and 7TV) used for token matching.
package emote

// Provider identifies where a third-party emote comes from.
type Provider string

const (
	ProviderBTTV    Provider = "bttv"
	Provider7TV     Provider = "7tv"
	ProviderUnknown Provider = ""
)

// Entry is a third-party emote keyed by its literal code.
type Entry struct {
	Code     string   `json:"code"`
	URL      string   `json:"url"`
	Provider Provider `json:"provider"`
	ID       string   `json:"id"`
}

// Catalog maps an emote code to its entry. It is read-only once built.
type Catalog map[string]Entry

// Merge folds layers into a new catalog. When two layers define the same code
// the later layer wins, so the caller's argument order is the precedence order.
func Merge(layers ...Catalog) Catalog {
	n := 0
	for _, l := range layers {
		n += len(l)
	}
	out := make(Catalog, n)
	for _, l := range layers {
		for code, e := range l {
			out[code] = e
		}
	}
	return out
}

// Build merges provider catalogs in the fixed order BTTV then 7TV, so 7TV
// entries replace BTTV entries with the same code.
func Build(bttv, seventv Catalog) Catalog {
	return Merge(bttv, seventv)
}

// Lookup returns the entry for an exact code.
func (c Catalog) Lookup(code string) (Entry, bool) {
	e, ok := c[code]
	return e, ok
}
