// fastview implements a builder pattern for simple server-side views:
// given an input data format, apply a transformation to a view-model,
// and then multiplex that data to one or more views whose element updates
// are pushed to the browser.
package fastview

import (
	"html/template"
)

// EleUpdate is an element identifier and a set of operations to apply to its attributes/content.
type EleUpdate struct {
	// The id by which to find the element
	EleId string
	// Op keys are attrib keys or 'textContent', values are the strings to which these are set.
	// Example: ('x','123') means 'set attribute 'x' to 123. 'textContent' is a reserved key:
	// ('textContent','abc') means 'set ele.textContent to abc'.
	Ops []Op
}

// Op is a key and value. For example an html attribute and its new value.
type Op struct {
	Key   string
	Value string
}

// TEXT_CONTENT is the reserved Op key for replacing an element's text.
const TEXT_CONTENT = "textContent"

// SetText returns an update replacing the text of element @id.
func SetText(id, text string) EleUpdate {
	return EleUpdate{EleId: id, Ops: []Op{{Key: TEXT_CONTENT, Value: text}}}
}

// SetAttrs returns an update setting pairs of attribute keys and values on element @id.
func SetAttrs(id string, kvs ...string) EleUpdate {
	update := EleUpdate{EleId: id}
	for i := 0; i+1 < len(kvs); i += 2 {
		update.Ops = append(update.Ops, Op{Key: kvs[i], Value: kvs[i+1]})
	}
	return update
}

// ViewComponent implements server side views: Parse to add their initial form to a page
// template and Updates to obtain the chan by which ele-updates are notified.
type ViewComponent interface {
	Updates() <-chan []EleUpdate
	// Parse parses the view-component and adds it to the passed parent template, thus inheriting
	// or possibly extending its definition (func-map, etc). This allows recursively defining
	// view-components. It returns the name of the defined template.
	Parse(*template.Template) (string, error)
}
