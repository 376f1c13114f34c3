package probe

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cast"

	"vehicleetl/internal/schema"
)

// inference tracks which classes every observed value still fits.
type inference struct {
	seen      bool
	allNumber bool
	allBool   bool
}

func (in *inference) observe(v string) {
	v = strings.TrimSpace(v)
	if v == "" {
		return
	}
	if !in.seen {
		in.seen = true
		in.allNumber = true
		in.allBool = true
	}
	if in.allNumber {
		if _, err := cast.ToFloat64E(v); err != nil {
			in.allNumber = false
		}
	}
	if in.allBool {
		if _, ok := parseBoolLoose(v); !ok {
			in.allBool = false
		}
	}
}

// class prefers numeric over boolean, so 0/1 flags come out numeric.
// Keys with no usable value are categorical.
func (in *inference) class() schema.Class {
	switch {
	case !in.seen:
		return schema.Categorical
	case in.allNumber:
		return schema.Numeric
	case in.allBool:
		return schema.Boolean
	default:
		return schema.Categorical
	}
}

func parseBoolLoose(s string) (bool, bool) {
	return schema.Column{Class: schema.Boolean}.ParseBool(s)
}

// Text renders r for humans.
func (r Report) Text() string {
	if r.Sampled == 0 {
		return "keys: no records sampled"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "key report:\tsampled=%d\tempty=%d\tmalformed=%d\tbad_lines=%d\n",
		r.Sampled, r.Empty, r.Malformed, r.BadLines)
	fmt.Fprintf(&b, "%-20s\t%-11s\t%-7s\t%-8s\tclass\n", "key", "coverage", "none", "distinct")
	for _, k := range r.Keys {
		distinct := fmt.Sprint(k.Distinct)
		if k.Capped {
			distinct += "+"
		}
		fmt.Fprintf(&b, "%-20s\t%-11s\t%-7d\t%-8s\t%s\n",
			k.Name, fmt.Sprintf("%.1f%%", k.Coverage*100), k.None, distinct, k.Class)
	}

	if r.Full {
		fmt.Fprintf(&b, "full scan:\trecords=%d\tlate_keys=%d\n", r.Records, len(r.LateKeys))
		for _, lk := range r.LateKeys {
			fmt.Fprintf(&b, "  %s\tfirst_seen=%d\tcount=%d\n", lk.Name, lk.FirstSeen, lk.Count)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

// PolicyJSON returns the suggested policy as indented JSON with a trailing
// newline.
func (r Report) PolicyJSON() ([]byte, error) {
	b, err := json.MarshalIndent(r.Policy(), "", "  ")
	if err != nil {
		return nil, err
	}
	return append(b, '\n'), nil
}
