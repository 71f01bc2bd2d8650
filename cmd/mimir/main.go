package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/boutros/mimir"
	"github.com/boutros/mimir/kv"
	"github.com/boutros/mimir/reason"
)

const importBatchSize = 1000

func main() {
	log.SetFlags(0)
	log.SetPrefix("mimir: ")

	importF := flag.String("i", "", "import N-Triples file into the store")
	dump := flag.Bool("d", false, "dump the store as N-Triples to standard out")
	stats := flag.Bool("s", false, "print store statistics")
	materialize := flag.String("m", "", "materialize with the given profile (rdfs, owl2rl, all)")
	tuning := flag.String("tuning", "default", "LSM tuning preset")
	showTuning := flag.Bool("show-tuning", false, "print the tuning summary and exit")

	flag.Usage = func() {
		fmt.Fprintln(os.Stderr, "Usage: mimir <flags> <database dir>")
		flag.PrintDefaults()
	}

	flag.Parse()

	preset, err := kv.Preset(*tuning)
	if err != nil {
		log.Fatal(err)
	}
	if *showTuning {
		fmt.Print(preset.Summary())
		return
	}

	if len(flag.Args()) < 1 {
		flag.Usage()
		os.Exit(1)
	}

	db, err := mimir.Open(flag.Args()[0], mimir.Options{Tuning: &preset})
	if err != nil {
		log.Fatal(err)
	}
	defer db.Close()

	ctx := context.Background()

	if *importF != "" {
		f, err := os.Open(*importF)
		if err != nil {
			log.Fatal(err)
		}
		n, err := db.Import(ctx, f, importBatchSize)
		f.Close()
		if err != nil {
			log.Fatal(err)
		}
		log.Printf("imported %d triples from %s", n, *importF)
	}

	if *materialize != "" {
		st, err := db.Materialize(ctx, reason.Profile(*materialize), mimir.MaterializeOptions{Parallel: true})
		if err != nil {
			log.Fatal(err)
		}
		log.Printf("materialized %d facts in %d iterations (%s)",
			st.TotalDerived, st.Iterations, st.Duration)
	}

	if *dump {
		if err := db.Dump(ctx, os.Stdout); err != nil {
			log.Fatal(err)
		}
	}

	if *stats {
		st, err := db.Stats()
		if err != nil {
			log.Fatal(err)
		}
		log.Printf("triples: %d (derived: %d), terms: uri=%d bnode=%d literal=%d, size: %d bytes",
			st.NumTriples, st.NumDerived,
			st.Counters.URI, st.Counters.BNode, st.Counters.Literal, st.SizeBytes)
	}
}
