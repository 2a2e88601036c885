// Command keepluggable stores, lists and deletes files against the
// configured storage backends. Meant for operations and smoke testing,
// not as the main integration surface.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/nandoflorestan/keepluggable/internal/action"
	"github.com/nandoflorestan/keepluggable/internal/config"
	"github.com/nandoflorestan/keepluggable/internal/domain"
	"github.com/nandoflorestan/keepluggable/internal/logger"
	"github.com/nandoflorestan/keepluggable/internal/orchestrator"
)

func main() {
	log.SetFlags(log.Lshortfile)

	var configPath, namespace string
	flag.StringVar(&configPath, "config", "keepluggable.yml", "path to the configuration file")
	flag.StringVar(&namespace, "namespace", "default", "bucket subdirectory to operate on")
	flag.Parse()

	cfg := config.MustLoad(configPath)
	logger.Initialize(cfg.Logging.Level, cfg.Logging.JSON)

	ctx := context.Background()
	o, err := orchestrator.DefaultRegistry().Build(ctx, cfg)
	if err != nil {
		log.Fatal(err)
	}
	a := o.Action(namespace)

	args := flag.Args()
	if len(args) == 0 {
		usage()
	}
	switch args[0] {
	case "store":
		store(ctx, a, args[1:])
	case "list":
		list(ctx, a)
	case "delete":
		remove(ctx, a, args[1:])
	case "url":
		url(ctx, o, namespace, args[1:])
	default:
		usage()
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: keepluggable [flags] <command>

commands:
  store <file>...        upload one or more local files
  list                   print stored originals with their versions
  delete <fingerprint>...  remove originals and their versions
  url <fingerprint>      print a retrieval link`)
	os.Exit(2)
}

func store(ctx context.Context, a *action.Action, paths []string) {
	if len(paths) == 0 {
		usage()
	}
	for _, path := range paths {
		file, err := os.Open(path)
		if err != nil {
			log.Fatal(err)
		}
		md, err := a.StoreOriginalFile(ctx, file, &domain.FileMetadata{FileName: filepath.Base(path)})
		file.Close()
		if err != nil {
			log.Fatalf("storing %s: %s", path, err)
		}
		printJSON(md)
	}
}

func list(ctx context.Context, a *action.Action) {
	originals, err := a.GenOriginals(ctx, nil)
	if err != nil {
		log.Fatal(err)
	}
	printJSON(originals)
}

func remove(ctx context.Context, a *action.Action, fprints []string) {
	if len(fprints) == 0 {
		usage()
	}
	for _, fprint := range fprints {
		if err := a.DeleteFile(ctx, fprint); err != nil {
			log.Fatalf("deleting %s: %s", fprint, err)
		}
		fmt.Println("deleted", fprint)
	}
}

func url(ctx context.Context, o *orchestrator.Orchestrator, namespace string, fprints []string) {
	if len(fprints) != 1 {
		usage()
	}
	md, err := o.Metadata.Get(ctx, namespace, fprints[0])
	if err != nil {
		log.Fatal(err)
	}
	if md == nil {
		log.Fatalf("no file with fingerprint %s", fprints[0])
	}
	href, err := o.Payloads.URL(ctx, namespace, md, time.Hour, true)
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println(href)
}

func printJSON(v any) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println(string(out))
}
