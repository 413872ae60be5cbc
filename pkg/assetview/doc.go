// Package assetview binds the retrieval engine to the Qualys AssetView
// asset search endpoint: its request parameters, the flattening of asset
// payloads into report rows, and the login/fetch/logout run around them.
package assetview
