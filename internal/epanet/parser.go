// Package epanet implements §4.B: parsing an EPANET .inp text file into
// ordered nodes and directed links, with deterministic MAINLINE/JUNCTION/
// BRANCH/HOUSEHOLD role inference.
package epanet

import (
	"bufio"
	"bytes"
	"sort"
	"strconv"
	"strings"

	"github.com/watershedlabs/leaksense/internal/domain"
	"github.com/watershedlabs/leaksense/pkg/apperrors"
)

// MaxFileBytes is the §4.B limit on an imported .inp file.
const MaxFileBytes = 50 * 1024 * 1024

// Node is one parsed EPANET node, role-inferred and parent-assigned.
type Node struct {
	ID        string
	Role      domain.NodeType
	Elevation *float64
	Demand    *float64
	ParentID  *string // nearest upstream node's EPANET id, nil for roots
}

// Link is a parsed directed EPANET link (pipe, pump, or valve).
type Link struct {
	ID   string
	From string
	To   string
}

// Result is the full parse output of one .inp file.
type Result struct {
	Nodes []Node
	Links []Link
}

type rawJunction struct {
	id        string
	elevation *float64
	demand    *float64
}

// Parse parses an EPANET .inp file per §4.B's role-inference and
// parent-assignment rules. It fails with InvalidInput if the file exceeds
// MaxFileBytes, or if neither a [JUNCTIONS] nor a [PIPES] section header is
// present.
func Parse(data []byte) (*Result, error) {
	if int64(len(data)) > MaxFileBytes {
		return nil, apperrors.InvalidInput("epanet.Parse", "file exceeds 50 MiB limit")
	}

	junctions := make(map[string]rawJunction)
	reservoirs := make(map[string]bool)
	tanks := make(map[string]bool)
	links := make([]Link, 0)

	sawJunctionsSection := false
	sawPipesSection := false

	section := ""
	scanner := bufio.NewScanner(bytes.NewReader(normalizeNewlines(data)))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, ";") {
			continue
		}
		if strings.HasPrefix(line, "[") {
			section = strings.ToUpper(strings.TrimSpace(strings.Trim(line, "[]")))
			// Strip any trailing comment/garbage after the closing bracket.
			if idx := strings.Index(section, " "); idx >= 0 {
				section = section[:idx]
			}
			switch section {
			case "JUNCTIONS":
				sawJunctionsSection = true
			case "PIPES":
				sawPipesSection = true
			}
			continue
		}

		fields := splitDataLine(line)
		if len(fields) == 0 {
			continue
		}

		switch section {
		case "JUNCTIONS":
			j := rawJunction{id: fields[0]}
			if len(fields) > 1 {
				if v, err := strconv.ParseFloat(fields[1], 64); err == nil {
					j.elevation = &v
				}
			}
			if len(fields) > 2 {
				if v, err := strconv.ParseFloat(fields[2], 64); err == nil {
					j.demand = &v
				}
			}
			junctions[j.id] = j
		case "RESERVOIRS":
			reservoirs[fields[0]] = true
		case "TANKS":
			tanks[fields[0]] = true
		case "PIPES", "PUMPS", "VALVES":
			if len(fields) >= 3 {
				links = append(links, Link{ID: fields[0], From: fields[1], To: fields[2]})
			}
		}
	}

	if !sawJunctionsSection && !sawPipesSection {
		return nil, apperrors.InvalidInput("epanet.Parse", "neither [JUNCTIONS] nor [PIPES] section present")
	}

	return buildResult(junctions, reservoirs, tanks, links), nil
}

func buildResult(junctions map[string]rawJunction, reservoirs, tanks map[string]bool, links []Link) *Result {
	// Collect every node id referenced anywhere.
	nodeSet := make(map[string]bool)
	for id := range junctions {
		nodeSet[id] = true
	}
	for id := range reservoirs {
		nodeSet[id] = true
	}
	for id := range tanks {
		nodeSet[id] = true
	}
	for _, l := range links {
		nodeSet[l.From] = true
		nodeSet[l.To] = true
	}

	incoming := make(map[string][]Link) // node id -> incoming links, sorted by link id later
	outgoingCount := make(map[string]int)
	for _, l := range links {
		incoming[l.To] = append(incoming[l.To], l)
		outgoingCount[l.From]++
	}
	for id := range incoming {
		sort.Slice(incoming[id], func(i, j int) bool { return incoming[id][i].ID < incoming[id][j].ID })
	}

	ids := make([]string, 0, len(nodeSet))
	for id := range nodeSet {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	nodes := make([]Node, 0, len(ids))
	for _, id := range ids {
		j, declaredJunction := junctions[id]

		var role domain.NodeType
		switch {
		case len(incoming[id]) == 0 || reservoirs[id]:
			role = domain.NodeTypeMainline
		case j.demand != nil && *j.demand > 0:
			role = domain.NodeTypeHousehold
		case outgoingCount[id] >= 2 || declaredJunction:
			role = domain.NodeTypeJunction
		default:
			role = domain.NodeTypeBranch
		}

		n := Node{ID: id, Role: role}
		if declaredJunction {
			n.Elevation = j.elevation
			n.Demand = j.demand
		}

		if role != domain.NodeTypeMainline && len(incoming[id]) > 0 {
			parent := incoming[id][0].From
			n.ParentID = &parent
		}

		nodes = append(nodes, n)
	}

	return &Result{Nodes: nodes, Links: links}
}

func normalizeNewlines(data []byte) []byte {
	data = bytes.ReplaceAll(data, []byte("\r\n"), []byte("\n"))
	return bytes.ReplaceAll(data, []byte("\r"), []byte("\n"))
}

// splitDataLine tokenizes a data line on whitespace, stopping at an inline
// comment introduced by ';'.
func splitDataLine(line string) []string {
	if idx := strings.Index(line, ";"); idx >= 0 {
		line = line[:idx]
	}
	return strings.Fields(line)
}
