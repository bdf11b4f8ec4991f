package main

import (
	"fmt"
	"io"
	"strconv"

	"clinicaletl/internal/core/pipeline"
	perr "clinicaletl/internal/platform/errors"
	conceptdomain "clinicaletl/internal/services/concept/domain"
	identitydomain "clinicaletl/internal/services/identity/domain"

	"github.com/spf13/cobra"
)

var auditCmd = &cobra.Command{
	Use:   "audit <entity_type>",
	Short: "Check that every natural key of an entity type has one surrogate",
	Long: `Audit counts the distinct natural keys in the identity sources of an
entity type and compares them with the issued surrogates and the counter.

Exits with code 2 when the mapping is inconsistent.`,
	Args: cobra.ExactArgs(1),
	RunE: runAudit,
}

var unmappedCmd = &cobra.Command{
	Use:   "unmapped",
	Short: "List codes mapped to the unknown concept, per vocabulary and domain",
	Args:  cobra.NoArgs,
	RunE:  runUnmapped,
}

func runAudit(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	s, err := open(ctx)
	if err != nil {
		return err
	}
	defer s.close()

	sources, err := identitySources(s.app.Pipeline, args[0])
	if err != nil {
		return err
	}
	a, err := s.app.Identity.Service().Audit(ctx, args[0], sources)
	if err != nil {
		return err
	}
	if jsonOut {
		if err := printJSON(cmd.OutOrStdout(), a); err != nil {
			return err
		}
	} else {
		printAudit(cmd.OutOrStdout(), a)
	}
	if !a.Consistent() {
		return &auditMismatch{entity: a.EntityType}
	}
	return nil
}

// identitySources collects the sources of every identity stage issuing
// surrogates for entityType
func identitySources(p *pipeline.Pipeline, entityType string) ([]pipeline.IdentitySource, error) {
	var out []pipeline.IdentitySource
	for i := range p.Stages {
		st := &p.Stages[i]
		if st.Kind == pipeline.KindIdentity && st.Identity != nil && st.Identity.EntityType == entityType {
			out = append(out, st.Identity.Sources...)
		}
	}
	if len(out) == 0 {
		return nil, perr.WithField(perr.NotFoundf("no identity stage issues %q surrogates", entityType), "entity_type")
	}
	return out, nil
}

func printAudit(w io.Writer, a identitydomain.Audit) {
	printTable(w, []string{"entity", "observed", "missing", "mapped", "max surrogate", "counter"}, [][]string{{
		a.EntityType,
		strconv.FormatInt(a.ObservedKeys, 10),
		strconv.FormatInt(a.MissingKeys, 10),
		strconv.FormatInt(a.MappedKeys, 10),
		strconv.FormatInt(a.MaxSurrogate, 10),
		strconv.FormatInt(a.Counter, 10),
	}})
	if a.Consistent() {
		fmt.Fprintln(w, "consistent")
	}
}

func runUnmapped(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	s, err := open(ctx)
	if err != nil {
		return err
	}
	defer s.close()

	counts, err := s.app.Concept.Service().Unmapped(ctx)
	if err != nil {
		return err
	}
	if jsonOut {
		return printJSON(cmd.OutOrStdout(), counts)
	}
	printUnmapped(cmd.OutOrStdout(), counts)
	return nil
}

func printUnmapped(w io.Writer, counts []conceptdomain.UnmappedCount) {
	rows := make([][]string, 0, len(counts))
	for _, c := range counts {
		rows = append(rows, []string{c.Vocabulary, c.Domain, strconv.FormatInt(c.Codes, 10)})
	}
	printTable(w, []string{"vocabulary", "domain", "codes"}, rows)
}
