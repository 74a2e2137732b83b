package interpret

import (
	"fmt"
	"io"
	"slices"
	"text/tabwriter"
)

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

// Write renders the overview as aligned text.
func (o Overview) Write(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "Message type:\t%s\n", o.Type)
	fmt.Fprintf(tw, "Control ID:\t%s\n", o.ControlID)
	fmt.Fprintf(tw, "Version:\t%s\n", o.Version)
	fmt.Fprintf(tw, "Segments:\t%d\n", o.Segments)
	fmt.Fprintln(tw)
	for _, c := range o.Counts {
		fmt.Fprintf(tw, "%s\t(%d)\t%s\n", c.Code, c.Count, c.Description)
	}
	if o.Errors+o.Warnings > 0 {
		fmt.Fprintf(tw, "\nErrors:\t%d\nWarnings:\t%d\n", o.Errors, o.Warnings)
		for _, d := range o.Highlights {
			fmt.Fprintf(tw, "  %s\t%s\t%s\n", d.Severity, d.Anchor(), d.Message)
		}
	}
	return tw.Flush()
}

// Write renders the segment and its fields.
func (s SegmentInfo) Write(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "%s: %s\n", s.Code, s.Description)
	for _, f := range s.Fields {
		value := f.Value
		if value == "" {
			value = "(empty)"
		}
		if f.Meaning != "" {
			value = fmt.Sprintf("%s (%s)", value, f.Meaning)
		}
		fmt.Fprintf(tw, "  %s\t%s\t%s\n", f.Anchor, f.Name, value)
	}
	return tw.Flush()
}

// Write renders the field definition, value and component breakdown.
func (f FieldInfo) Write(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "Field:\t%s\n", f.Anchor)
	if f.Name != "" {
		fmt.Fprintf(tw, "Name:\t%s\n", f.Name)
		fmt.Fprintf(tw, "Data type:\t%s\n", f.Type)
		fmt.Fprintf(tw, "Required:\t%s\n", yesNo(f.Required))
		fmt.Fprintf(tw, "Repeatable:\t%s\n", yesNo(f.Repeatable))
	}
	value := f.Value
	if value == "" {
		value = "(empty)"
	}
	fmt.Fprintf(tw, "Value:\t%s\n", value)
	if f.Meaning != "" {
		fmt.Fprintf(tw, "Meaning:\t%s\n", f.Meaning)
	}
	if len(f.Components) > 0 {
		fmt.Fprintln(tw, "Components:")
		keys := make([]int, 0, len(f.Components))
		for k := range f.Components {
			keys = append(keys, k)
		}
		slices.Sort(keys)
		for _, k := range keys {
			fmt.Fprintf(tw, "  %d:\t%s\n", k, f.Components[k])
		}
	}
	return tw.Flush()
}
