// Package interactive implements gadget.HumanInputCollaborator as a
// terminal prompt, matching approval/interactive's stdlib-only rationale:
// reading one answer line from stdin needs nothing beyond bufio.Scanner.
package interactive

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// Collaborator asks a question on out and reads the answer from in.
type Collaborator struct {
	in  *bufio.Scanner
	out io.Writer
}

// New builds a Collaborator.
func New(in io.Reader, out io.Writer) *Collaborator {
	return &Collaborator{in: bufio.NewScanner(in), out: out}
}

// Ask implements gadget.HumanInputCollaborator.
func (c *Collaborator) Ask(question string) (answer string, cancelled bool, err error) {
	fmt.Fprintf(c.out, "%s\n> ", question)
	if !c.in.Scan() {
		if scanErr := c.in.Err(); scanErr != nil {
			return "", false, scanErr
		}
		return "", true, nil
	}
	answer = strings.TrimSpace(c.in.Text())
	if answer == "" {
		return "", true, nil
	}
	return answer, false, nil
}
