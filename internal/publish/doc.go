// Package publish decides whether a freshly built zone may replace the
// published one and writes it out.
//
// The Policy holds back zones that lost more addresses than the change
// budget allows, which protects against publishing an empty zone during a
// correlated outage or a broken check, but always lets a zone through once
// the published one is older than the staleness limit.
package publish
