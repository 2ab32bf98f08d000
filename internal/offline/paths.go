package offline

import (
	"encoding/json"
	"net/url"
	"sort"

	"github.com/weftgraph/weft/internal/node"
)

// On-disk layout constants (spec section 4.H), unchanged from the
// original's OPFS path segments aside from the root-level rename from a
// browser-specific vocabulary to plain directory names.
const (
	offlineViewsRoot    = "offline_views"
	viewFilename        = "view.json"
	doneFilename        = "done"
	offlineFilesRoot    = "offline_files"
	metaFilename        = "meta.json"
	fileFilename        = "file"
	genDirName          = "gen"
	comicPagesDirName   = "pages"
)

// mimeFilename is the sidecar name colocated with every downloaded file,
// carrying its Content-Type so playback components can serve it without
// re-deriving a mime type from the extension.
func mimeFilename(name string) string {
	return name + ".mime"
}

// queryFilename canonically encodes a resolved query's cache filename:
// the query id plus its sorted parameter map, URL-escaped so arbitrary
// parameter values never produce invalid path characters.
func queryFilename(queryID string, params map[string]node.Node) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	ordered := make([]struct {
		K string    `json:"k"`
		V node.Node `json:"v"`
	}, 0, len(keys))
	for _, k := range keys {
		ordered = append(ordered, struct {
			K string    `json:"k"`
			V node.Node `json:"v"`
		}{K: k, V: params[k]})
	}
	encoded, err := json.Marshal(ordered)
	if err != nil {
		// params only ever contains nodes successfully round-tripped
		// through a prior query response; a marshal failure here would
		// mean a Node variant that doesn't implement MarshalJSON.
		panic("offline: cannot encode query parameter map: " + err.Error())
	}
	return "req_" + queryID + "_" + url.QueryEscape(string(encoded)) + ".json"
}
