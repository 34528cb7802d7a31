// Package guild stores the per-guild plugin registry: which plugins are
// enabled and the typed settings of each, with credentials sealed by the
// vault before they reach storage.
package guild
