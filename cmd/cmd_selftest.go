// cmd_selftest.go - selftest Command
// Hauptfunktionen: SelftestHandler, buildAffine, runAffine, renderHandles
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/ollama/tfbind/format"
	"github.com/ollama/tfbind/tf"
	"github.com/ollama/tfbind/tf/op"
)

// affine - Graph fuer y = x*w + w
type affine struct {
	x, y tf.Output
	w    []float32
}

func buildAffine(s *op.Scope) (*affine, error) {
	w := []float32{2, -1, 0.5}

	x, err := op.Placeholder(s.WithOpName("x"), tf.Float, tf.MakeShape(int64(len(w))))
	if err != nil {
		return nil, err
	}
	wc, err := op.Const(s.WithOpName("w"), w)
	if err != nil {
		return nil, err
	}
	xw, err := op.Mul(s, x, wc)
	if err != nil {
		return nil, err
	}
	y, err := op.Add(s.WithOpName("y"), xw, wc)
	if err != nil {
		return nil, err
	}
	return &affine{x: x, y: y, w: w}, nil
}

// runAffine - Fuehrt einen Lauf mit x = [i, i+1, ...] aus und prueft das Ergebnis
func runAffine(ctx context.Context, sess *tf.Session, a *affine, i int) error {
	in := make([]float32, len(a.w))
	for j := range in {
		in[j] = float32(i + j)
	}

	x, err := tf.NewTensor(sess.Graph().Runtime(), in)
	if err != nil {
		return err
	}
	defer x.Close()

	out, err := sess.Run(ctx, map[tf.Output]*tf.Tensor{a.x: x}, []tf.Output{a.y}, nil)
	if err != nil {
		return err
	}
	defer out[0].Close()

	got, err := tf.ValuesAs[float32](out[0])
	if err != nil {
		return err
	}
	for j, v := range got {
		if want := in[j]*a.w[j] + a.w[j]; v != want {
			return fmt.Errorf("run %d: y[%d] = %v, want %v", i, j, v, want)
		}
	}
	return nil
}

// renderHandles - Gibt die lebenden Handles als Tabelle aus
func renderHandles(w io.Writer, live []tf.Entry) {
	var data [][]string
	for _, e := range live {
		parent := "-"
		if e.Parent != 0 {
			parent = fmt.Sprint(e.Parent)
		}
		data = append(data, []string{fmt.Sprint(e.ID), e.Kind.String(), parent, time.Since(e.Created).Round(time.Millisecond).String()})
	}

	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"ID", "KIND", "PARENT", "AGE"})
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetNoWhiteSpace(true)
	table.SetTablePadding("    ")
	table.AppendBulk(data)
	table.Render()
}

// SelftestHandler - Baut einen kleinen Graphen und fuehrt ihn parallel aus
func SelftestHandler(cmd *cobra.Command, _ []string) (err error) {
	runs, _ := cmd.Flags().GetInt("runs")
	parallel, _ := cmd.Flags().GetInt("parallel")
	showHandles, _ := cmd.Flags().GetBool("handles")

	rt, err := openRuntime(cmd)
	if err != nil {
		return err
	}
	defer func() { err = errors.Join(err, rt.Close()) }()

	s, err := op.NewScope(rt)
	if err != nil {
		return err
	}

	graph := s.Graph()
	var sess *tf.Session
	defer func() {
		// nur nach einem Fehler noch gesetzt
		if sess != nil {
			sess.Close()
		}
		if graph != nil {
			graph.Close()
		}
	}()

	a, err := buildAffine(s)
	if err != nil {
		return err
	}

	sess, err = tf.NewSession(graph, nil)
	if err != nil {
		return err
	}

	start := time.Now()
	g, ctx := errgroup.WithContext(cmd.Context())
	g.SetLimit(max(parallel, 1))
	for i := range runs {
		g.Go(func() error {
			return runAffine(ctx, sess, a, i)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s %s: %d runs in %s\n", rt.API().Name(), rt.Version(), runs, time.Since(start).Round(time.Microsecond))

	if showHandles {
		live := rt.Registry().Live()
		slices.SortStableFunc(live, func(x, y tf.Entry) int { return int(x.Kind) - int(y.Kind) })
		renderHandles(out, live)
	}

	cerr := errors.Join(sess.Close(), graph.Close())
	sess, graph = nil, nil
	if cerr != nil {
		return cerr
	}
	if err := rt.Registry().CheckLeaks(); err != nil {
		return err
	}
	fmt.Fprintf(out, "no leaked handles (%s data per run)\n", format.HumanBytes(int64(4*len(a.w))))
	return nil
}

// newSelftestCmd - Erstellt den selftest Command
func newSelftestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "selftest",
		Short: "Run a small graph concurrently and check for leaked handles",
		Args:  cobra.NoArgs,
		RunE:  SelftestHandler,
	}

	cmd.Flags().Int("runs", 64, "Number of session runs")
	cmd.Flags().Int("parallel", 8, "Concurrent session runs")
	cmd.Flags().Bool("handles", false, "Print the live handle table before teardown")
	return cmd
}
