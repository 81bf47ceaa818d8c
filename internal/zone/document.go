package zone

import (
	"encoding/json"
	"fmt"
)

// Weight is the relative weight given to every published address.
const Weight = "100"

// Address is an [ip, weight] pair as geodns expects it.
type Address [2]string

func NewAddress(ip string) Address {
	return Address{ip, Weight}
}

func (a Address) IP() string {
	return a[0]
}

func (a Address) Weight() string {
	return a[1]
}

// RecordSet holds the records of one label. Empty families are omitted.
type RecordSet struct {
	A     []Address          `json:"a,omitempty"`
	AAAA  []Address          `json:"aaaa,omitempty"`
	NS    map[string]*string `json:"ns,omitempty"`
	Alias *string            `json:"alias,omitempty"`
}

func (rs *RecordSet) add(ip string, v6 bool) {
	if v6 {
		rs.AAAA = append(rs.AAAA, NewAddress(ip))
		return
	}
	rs.A = append(rs.A, NewAddress(ip))
}

// Document is the zone description written for the DNS server.
type Document struct {
	TTL      int                   `json:"ttl"`
	Serial   uint32                `json:"serial"`
	Contact  string                `json:"contact"`
	MaxHosts int                   `json:"max_hosts"`
	Data     map[string]*RecordSet `json:"data"`
}

// AddressCount returns the number of addresses published at the root label.
// A nil document has none.
func (d *Document) AddressCount() int {
	if d == nil || d.Data == nil {
		return 0
	}
	root, ok := d.Data[""]
	if !ok || root == nil {
		return 0
	}
	return len(root.A) + len(root.AAAA)
}

// Marshal encodes the document in the geodns JSON format.
func (d *Document) Marshal() ([]byte, error) {
	return json.Marshal(d)
}

// Parse decodes a document previously produced by Marshal.
func Parse(data []byte) (*Document, error) {
	var d Document
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("zone: parse document: %w", err)
	}
	return &d, nil
}
