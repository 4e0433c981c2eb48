// Package pdml converts tshark's PDML dissection output into JSON, keeping
// attribute order and translating display names through a lookup table.
package pdml

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/beevik/etree"

	"sharkline/internal/capture"
)

// ErrNoPDML is returned when the document has no <pdml> root.
var ErrNoPDML = errors.New("pdml: no pdml element")

// pdml root attributes that describe the run rather than the packets.
var droppedRootAttrs = map[string]bool{
	"version":      true,
	"creator":      true,
	"time":         true,
	"capture_file": true,
}

// PcapToXML runs tshark -T pdml over pcapPath and writes the result to xmlPath.
func PcapToXML(ctx context.Context, ts *capture.Tshark, pcapPath, xmlPath string) error {
	out, err := os.Create(xmlPath)
	if err != nil {
		return fmt.Errorf("pdml: create %s: %w", xmlPath, err)
	}
	defer out.Close()

	cmd := ts.Command(ctx, capture.PDMLArgs(pcapPath)...)
	cmd.Stdout = out
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("pdml: tshark %s: %w: %s", pcapPath, err, strings.TrimSpace(stderr.String()))
	}
	return out.Close()
}

// Converter turns PDML documents into JSON. It is safe for concurrent use.
type Converter struct {
	translations map[string]string
	prefixes     []string // longest first
}

// NewConverter returns a Converter translating display-name prefixes with
// table. table is not modified and may be nil.
func NewConverter(table map[string]string) *Converter {
	c := &Converter{translations: make(map[string]string, len(table))}
	for k, v := range table {
		c.translations[k] = v
		c.prefixes = append(c.prefixes, k)
	}
	sort.Slice(c.prefixes, func(i, j int) bool {
		if len(c.prefixes[i]) != len(c.prefixes[j]) {
			return len(c.prefixes[i]) > len(c.prefixes[j])
		}
		return c.prefixes[i] < c.prefixes[j]
	})
	return c
}

// ConvertFile reads xmlPath and writes indented JSON to jsonPath.
func (c *Converter) ConvertFile(xmlPath, jsonPath string) error {
	in, err := os.Open(xmlPath)
	if err != nil {
		return fmt.Errorf("pdml: open %s: %w", xmlPath, err)
	}
	defer in.Close()

	out, err := os.Create(jsonPath)
	if err != nil {
		return fmt.Errorf("pdml: create %s: %w", jsonPath, err)
	}
	if err := c.Convert(in, out); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// Convert reads one PDML document from r and writes its JSON form to w:
// {"pdml": {<root attrs>, "packet": [{<attrs>, "proto": [{<attrs>, "field": [...]}]}]}}.
func (c *Converter) Convert(r io.Reader, w io.Writer) error {
	doc := etree.NewDocument()
	if _, err := doc.ReadFrom(r); err != nil {
		return fmt.Errorf("pdml: parse: %w", err)
	}
	root := doc.SelectElement("pdml")
	if root == nil {
		return ErrNoPDML
	}

	var top object
	for _, a := range root.Attr {
		if !droppedRootAttrs[attrName(a)] {
			top = append(top, member{attrName(a), a.Value})
		}
	}
	packets := []any{}
	for _, pkt := range root.SelectElements("packet") {
		packets = append(packets, c.packet(pkt))
	}
	top = append(top, member{"packet", packets})

	data, err := json.MarshalIndent(object{{"pdml", top}}, "", "    ")
	if err != nil {
		return fmt.Errorf("pdml: encode: %w", err)
	}
	if _, err := w.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("pdml: write: %w", err)
	}
	return nil
}

func (c *Converter) packet(el *etree.Element) object {
	obj := attrs(el)
	protos := []any{}
	for _, p := range el.SelectElements("proto") {
		if hidden(p) {
			continue
		}
		protos = append(protos, c.node(p))
	}
	return append(obj, member{"proto", protos})
}

// node converts a proto or field element and its nested fields.
func (c *Converter) node(el *etree.Element) object {
	obj := c.translate(attrs(el))
	var fields []any
	for _, f := range el.SelectElements("field") {
		if hidden(f) {
			continue
		}
		fields = append(fields, c.node(f))
	}
	if len(fields) > 0 {
		obj = append(obj, member{"field", fields})
	}
	return obj
}

// translate rewrites the showname attribute, or show when there is no
// showname, replacing the longest matching table prefix.
func (c *Converter) translate(obj object) object {
	idx := obj.index("showname")
	if idx < 0 {
		idx = obj.index("show")
	}
	if idx < 0 {
		return obj
	}
	s := obj[idx].value.(string)
	for _, p := range c.prefixes {
		if strings.HasPrefix(s, p) {
			obj[idx].value = c.translations[p] + s[len(p):]
			break
		}
	}
	return obj
}

func attrs(el *etree.Element) object {
	obj := make(object, 0, len(el.Attr)+1)
	for _, a := range el.Attr {
		obj = append(obj, member{attrName(a), a.Value})
	}
	return obj
}

func attrName(a etree.Attr) string {
	if a.Space != "" {
		return a.Space + ":" + a.Key
	}
	return a.Key
}

func hidden(el *etree.Element) bool {
	return el.SelectAttrValue("hide", "") == "yes"
}

type member struct {
	key   string
	value any
}

// object is a JSON object that keeps its members in insertion order.
type object []member

func (o object) index(key string) int {
	for i, m := range o {
		if m.key == key {
			return i
		}
	}
	return -1
}

func (o object) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, m := range o {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(m.key)
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		v, err := json.Marshal(m.value)
		if err != nil {
			return nil, err
		}
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
