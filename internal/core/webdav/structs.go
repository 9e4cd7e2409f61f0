package webdav

import "encoding/xml"

// Decoding side. Tags carry no namespace so that elements match on local
// name only, whatever prefix or namespace URI the server picked.

type multistatus struct {
	XMLName   xml.Name   `xml:"multistatus"`
	Responses []response `xml:"response"`
}

type response struct {
	Hrefs    []string   `xml:"href"`
	Status   string     `xml:"status"`
	Propstat []propstat `xml:"propstat"`
}

type propstat struct {
	Prop   prop   `xml:"prop"`
	Status string `xml:"status"`
}

type prop struct {
	Elements []element `xml:",any"`
}

// element is any property element; its children are kept for properties
// such as resourcetype whose value is markup.
type element struct {
	XMLName  xml.Name
	Text     string    `xml:",chardata"`
	Children []element `xml:",any"`
}

// Encoding side. Request documents bind the DAV: namespace to the "D"
// prefix; properties from other namespaces declare their own.

type propfindDoc struct {
	XMLName xml.Name    `xml:"D:propfind"`
	NS      string      `xml:"xmlns:D,attr"`
	Allprop *struct{}   `xml:"D:allprop,omitempty"`
	Prop    *propValues `xml:"D:prop,omitempty"`
}

type propertyUpdateDoc struct {
	XMLName xml.Name `xml:"D:propertyupdate"`
	NS      string   `xml:"xmlns:D,attr"`
	Set     *propSet `xml:"D:set,omitempty"`
	Remove  *propSet `xml:"D:remove,omitempty"`
}

type propSet struct {
	Prop propValues `xml:"D:prop"`
}

type propValues struct {
	Items []propValue
}

type propValue struct {
	XMLName xml.Name
	Value   string `xml:",chardata"`
}
