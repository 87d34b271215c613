// Package interactive implements gadget.ApprovalCollaborator as a terminal
// prompt, the minimal concrete collaborator spec.md §6 describes as an
// external responsibility the core never provides itself.
package interactive

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/relayforge/gadgetloop/gadget"
)

// Collaborator prompts a human on in/out for each approval-required gadget
// call. It has no third-party dependency: a line-oriented terminal prompt
// is exactly what the standard library's bufio.Scanner is for, and nothing
// in this module's corpus offers a more idiomatic way to read one line from
// stdin.
type Collaborator struct {
	in  *bufio.Scanner
	out io.Writer
}

// New builds a Collaborator reading from in and writing prompts to out.
func New(in io.Reader, out io.Writer) *Collaborator {
	return &Collaborator{in: bufio.NewScanner(in), out: out}
}

// RequestApproval implements gadget.ApprovalCollaborator.
func (c *Collaborator) RequestApproval(req gadget.ApprovalRequest) (gadget.ApprovalResponse, error) {
	fmt.Fprintf(c.out, "approve %s(%v)? [y/N/always/cancel] ", req.GadgetName, req.Parameters)
	if !c.in.Scan() {
		if err := c.in.Err(); err != nil {
			return "", err
		}
		return gadget.ApprovalCancel, nil
	}
	switch strings.ToLower(strings.TrimSpace(c.in.Text())) {
	case "y", "yes":
		return gadget.ApprovalYes, nil
	case "always", "a":
		return gadget.ApprovalAlways, nil
	case "cancel", "c":
		return gadget.ApprovalCancel, nil
	default:
		return gadget.ApprovalNo, nil
	}
}
