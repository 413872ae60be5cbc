package assetview

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// NotAvailable fills missing fields.
const NotAvailable = "N/A"

// DefaultLifecycleExemptions lists OS names reported as EOL even without a
// version.
var DefaultLifecycleExemptions = []string{
	"VMware vCenter Server Appliance 6.7.0 build 22509751",
}

// Headers is the report column order.
var Headers = []string{
	"Asset ID",
	"Asset Name",
	"Host ID",
	"Netbios Name",
	"IPV4 Addresses",
	"Operating System Category",
	"OS",
	"Operating System Version",
	"Operating System Lifecycle Stage",
	"Hardware Category",
	"Activity",
	"Tags",
	"Qualys - External Facing",
}

// Row is one flattened asset.
type Row struct {
	AssetID        string
	AssetName      string
	HostID         string
	NetbiosName    string
	IPv4Addresses  string
	OSCategory     string
	OS             string
	OSVersion      string
	LifecycleStage string
	HardwareCat    string
	Activity       string
	Tags           string
	ExternalFacing string
}

// Values returns the row in Headers order.
func (r Row) Values() []string {
	return []string{
		r.AssetID,
		r.AssetName,
		r.HostID,
		r.NetbiosName,
		r.IPv4Addresses,
		r.OSCategory,
		r.OS,
		r.OSVersion,
		r.LifecycleStage,
		r.HardwareCat,
		r.Activity,
		r.Tags,
		r.ExternalFacing,
	}
}

// FlattenOptions tunes derived columns.
type FlattenOptions struct {
	// LifecycleExemptions are OS names never reported as "Not Applicable".
	LifecycleExemptions []string
}

const (
	updatedAtLayout = "2006-01-02T15:04:05Z"
	activityLayout  = "01/02/2006"
)

// Flatten converts page payloads into rows in page order.
func Flatten(pages []json.RawMessage, opts FlattenOptions) ([]Row, error) {
	exempt := make(map[string]struct{}, len(opts.LifecycleExemptions))
	for _, name := range opts.LifecycleExemptions {
		exempt[name] = struct{}{}
	}

	var rows []Row
	for i, page := range pages {
		result := gjson.ParseBytes(page)
		if !result.IsArray() {
			return nil, fmt.Errorf("page %d: expected JSON array, got %s", i, result.Type)
		}
		result.ForEach(func(_, asset gjson.Result) bool {
			rows = append(rows, flattenAsset(asset, exempt))
			return true
		})
	}
	return rows, nil
}

func flattenAsset(asset gjson.Result, exempt map[string]struct{}) Row {
	osName := stringOr(asset.Get("host.os.name"), NotAvailable)

	stage := "EOL"
	if _, ok := exempt[osName]; !ok && stringOr(asset.Get("host.os.version"), "-") == "-" {
		stage = "Not Applicable"
	}

	var tagNames []string
	external := "False"
	for _, tag := range asset.Get("tags").Array() {
		name := stringOr(tag.Get("name"), NotAvailable)
		tagNames = append(tagNames, name)
		if isExternalTag(tag.Get("name").String()) {
			external = "True"
		}
	}

	return Row{
		AssetID:     stringOr(asset.Get("assetId"), NotAvailable),
		AssetName:   stringOr(asset.Get("name"), NotAvailable),
		HostID:      stringOr(asset.Get("host.qgHostId"), NotAvailable),
		NetbiosName: stringOr(asset.Get("host.netbiosName"), NotAvailable),
		IPv4Addresses: strings.TrimLeft(
			stringOr(asset.Get("host.address"), NotAvailable), "/"),
		OSCategory: stringOr(asset.Get("host.os.category1"), NotAvailable) +
			" / " + stringOr(asset.Get("host.os.category2"), NotAvailable),
		OS:             osName,
		OSVersion:      stringOr(asset.Get("host.os.version"), NotAvailable),
		LifecycleStage: stage,
		HardwareCat:    NotAvailable,
		Activity:       activity(asset.Get("updatedAt").String()),
		Tags:           strings.Join(tagNames, " | "),
		ExternalFacing: external,
	}
}

func stringOr(r gjson.Result, fallback string) string {
	if !r.Exists() || r.Type == gjson.Null {
		return fallback
	}
	return r.String()
}

// activity renders updatedAt as MM/DD/YYYY. Fractional seconds are optional.
func activity(updatedAt string) string {
	if updatedAt == "" {
		return NotAvailable
	}
	t, err := time.Parse(updatedAtLayout, updatedAt)
	if err != nil {
		return NotAvailable
	}
	return t.Format(activityLayout)
}

func isExternalTag(name string) bool {
	name = strings.TrimSpace(name)
	name = strings.TrimPrefix(name, "[")
	name = strings.TrimSuffix(name, "]")
	return strings.EqualFold(name, "external")
}
