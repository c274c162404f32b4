package moduleclient

import (
	"net/url"
	"sort"
	"strconv"
	"strings"
)

// Topics lays out the MQTT topics of one module under <prefix>/<moduleID>.
type Topics struct {
	base string
}

func NewTopics(prefix, moduleID string) Topics {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return Topics{base: moduleID}
	}
	return Topics{base: prefix + "/" + moduleID}
}

func (t Topics) Base() string { return t.base }

// Output is the topic telemetry for output is published on. The property bag
// is appended as a URL-encoded query in the last topic level.
func (t Topics) Output(output string, props map[string]string) string {
	return t.base + "/outputs/" + output + "/" + EncodeProperties(props)
}

// OutputFilter subscribes to every message of an output.
func (t Topics) OutputFilter(output string) string {
	return t.base + "/outputs/" + output + "/#"
}

func (t Topics) TwinDesired() string      { return t.base + "/twin/desired" }
func (t Topics) TwinDesiredPatch() string { return t.base + "/twin/desired/patch" }
func (t Topics) TwinReported() string     { return t.base + "/twin/reported" }
func (t Topics) State() string            { return t.base + "/state" }
func (t Topics) Input(name string) string { return t.base + "/inputs/" + name }

// MethodRequest is the topic a caller publishes a method invocation on.
func (t Topics) MethodRequest(name, requestID string) string {
	return t.base + "/methods/" + name + "/" + requestID
}

// MethodRequestFilter matches every method invocation.
func (t Topics) MethodRequestFilter() string { return t.base + "/methods/+/+" }

func (t Topics) MethodResponse(status int, requestID string) string {
	return t.base + "/methods/" + methodResponseLevel + "/" + strconv.Itoa(status) + "/" + requestID
}

// MethodResponseFilter matches the responses to every invocation.
func (t Topics) MethodResponseFilter() string {
	return t.base + "/methods/" + methodResponseLevel + "/+/+"
}

const methodResponseLevel = "res"

// ParseMethodRequest extracts method name and request id from a request topic.
func (t Topics) ParseMethodRequest(topic string) (name, requestID string, ok bool) {
	rest, found := strings.CutPrefix(topic, t.base+"/methods/")
	if !found {
		return "", "", false
	}
	name, requestID, found = strings.Cut(rest, "/")
	if !found || name == "" || requestID == "" || name == methodResponseLevel || strings.Contains(requestID, "/") {
		return "", "", false
	}
	return name, requestID, true
}

// ParseMethodResponse extracts status and request id from a response topic.
func (t Topics) ParseMethodResponse(topic string) (status int, requestID string, ok bool) {
	rest, found := strings.CutPrefix(topic, t.base+"/methods/"+methodResponseLevel+"/")
	if !found {
		return 0, "", false
	}
	code, requestID, found := strings.Cut(rest, "/")
	if !found || requestID == "" {
		return 0, "", false
	}
	status, err := strconv.Atoi(code)
	if err != nil {
		return 0, "", false
	}
	return status, requestID, true
}

// ParseOutput extracts the output name and property bag from a telemetry topic.
func (t Topics) ParseOutput(topic string) (output string, props map[string]string, ok bool) {
	rest, found := strings.CutPrefix(topic, t.base+"/outputs/")
	if !found {
		return "", nil, false
	}
	output, encoded, _ := strings.Cut(rest, "/")
	if output == "" {
		return "", nil, false
	}
	props, err := DecodeProperties(encoded)
	if err != nil {
		return "", nil, false
	}
	return output, props, true
}

// EncodeProperties renders props as a query string safe for a single MQTT
// topic level: no '/', '+' or '#'. Keys are sorted.
func EncodeProperties(props map[string]string) string {
	keys := make([]string, 0, len(props))
	for k := range props {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(escape(k))
		b.WriteByte('=')
		b.WriteString(escape(props[k]))
	}
	return b.String()
}

// DecodeProperties reverses EncodeProperties.
func DecodeProperties(s string) (map[string]string, error) {
	values, err := url.ParseQuery(s)
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(values))
	for k, v := range values {
		if len(v) > 0 {
			out[k] = v[0]
		}
	}
	return out, nil
}

func escape(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}
