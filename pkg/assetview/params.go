package assetview

import (
	"net/http"
	"net/url"
	"strconv"

	"github.com/Sternrassler/qualys-assetview/pkg/pagination"
)

// Fields is the projection requested for every asset.
const Fields = "assetId,name,host.qgHostId,host.netbiosName,host.address," +
	"host.os.category1,host.os.category2,host.os.name,host.os.version," +
	"updatedAt,tags.name"

// Params builds the AssetView request parameters for one page.
func Params(q pagination.Query, offset, limit int) url.Values {
	params := url.Values{}
	params.Set("limit", strconv.Itoa(limit))
	params.Set("offset", strconv.Itoa(offset))
	params.Set("fields", Fields)
	params.Set("query", q.Filter)
	params.Set("groupByPivot", "Asset")
	params.Set("havingQuery", q.Having)
	params.Set("order", "-updatedAt")
	return params
}

// Header returns the fixed headers sent with AssetView requests.
func Header() http.Header {
	return http.Header{"Accept": {"*/*"}}
}

// EngineOptions configures a pagination.Engine for AssetView.
func EngineOptions() []pagination.Option {
	return []pagination.Option{
		pagination.WithParams(Params),
		pagination.WithHeader(Header()),
	}
}
