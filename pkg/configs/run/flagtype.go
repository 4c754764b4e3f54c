package run

import (
	"fmt"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Precision is a mixed precision optimization level, O0 (fp32) to O3.
type Precision int

const (
	O0 Precision = iota
	O1
	O2
	O3
)

func (p *Precision) String() string {
	if p == nil {
		return "0"
	}
	return strconv.Itoa(int(*p))
}

// Set accepts one of 0, 1, 2 or 3.
func (p *Precision) Set(expr string) error {
	v, err := strconv.Atoi(strings.TrimSpace(expr))
	if err != nil {
		return fmt.Errorf("precision should be one of 0, 1, 2 or 3: %w", err)
	}
	if v < int(O0) || int(O3) < v {
		return fmt.Errorf("precision should be one of 0, 1, 2 or 3, but %d", v)
	}
	*p = Precision(v)
	return nil
}

func (p *Precision) UnmarshalYAML(node *yaml.Node) error {
	return p.Set(node.Value)
}

// Level names the optimization level, like "O1".
func (p Precision) Level() string {
	return fmt.Sprintf("O%d", int(p))
}

// OptionalInt is an int flag which remembers whether it is given.
type OptionalInt struct {
	value int
	set   bool
}

// Unset returns an OptionalInt without value.
func Unset() *OptionalInt {
	return &OptionalInt{}
}

// IntOf returns an OptionalInt having v.
func IntOf(v int) *OptionalInt {
	return &OptionalInt{value: v, set: true}
}

func (o *OptionalInt) String() string {
	if o == nil || !o.set {
		return ""
	}
	return strconv.Itoa(o.value)
}

func (o *OptionalInt) Set(expr string) error {
	v, err := strconv.Atoi(strings.TrimSpace(expr))
	if err != nil {
		return err
	}
	o.value = v
	o.set = true
	return nil
}

func (o *OptionalInt) UnmarshalYAML(node *yaml.Node) error {
	if node.Tag == "!!null" {
		*o = OptionalInt{}
		return nil
	}
	return o.Set(node.Value)
}

// Get returns (value, true) if it is given, or (0, false).
func (o *OptionalInt) Get() (int, bool) {
	if o == nil {
		return 0, false
	}
	return o.value, o.set
}

// Objective is a pretraining objective summed into the optimized loss.
type Objective string

const (
	// masked language modeling
	MLM Objective = "mlm"
	// next sentence prediction
	NSP Objective = "nsp"
)

// Objectives is a comma separated, duplicate free set of Objective.
type Objectives []Objective

func (o *Objectives) String() string {
	if o == nil {
		return ""
	}
	s := make([]string, len(*o))
	for i := range *o {
		s[i] = string((*o)[i])
	}
	return strings.Join(s, ",")
}

// Set parses "mlm", "nsp" or "mlm,nsp".
func (o *Objectives) Set(expr string) error {
	parsed := Objectives{}
	seen := map[Objective]struct{}{}
	for _, item := range strings.Split(expr, ",") {
		obj := Objective(strings.ToLower(strings.TrimSpace(item)))
		switch obj {
		case MLM, NSP:
		case "":
			continue
		default:
			return fmt.Errorf("unknown objective: %q (mlm or nsp)", item)
		}
		if _, ok := seen[obj]; ok {
			continue
		}
		seen[obj] = struct{}{}
		parsed = append(parsed, obj)
	}
	if len(parsed) == 0 {
		return fmt.Errorf("at least one objective is required")
	}
	*o = parsed
	return nil
}

func (o *Objectives) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.SequenceNode {
		items := []string{}
		if err := node.Decode(&items); err != nil {
			return err
		}
		return o.Set(strings.Join(items, ","))
	}
	return o.Set(node.Value)
}

// Has tells whether obj is in the set.
func (o Objectives) Has(obj Objective) bool {
	for _, x := range o {
		if x == obj {
			return true
		}
	}
	return false
}
