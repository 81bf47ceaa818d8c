// Package zone synthesizes the JSON zone document consumed by geodns from
// the static topology and the current health of every host.
//
// Per-host labels always list every configured address so operators can see
// what is deployed. The root label and the group labels only carry addresses
// whose host passed its last check. Every address gets the same weight.
//
// A Document can also be rendered as RFC 1035 master file text for DNS
// servers that do not read the geodns format.
package zone
