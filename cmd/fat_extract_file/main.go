package main

import (
	"fmt"
	"io"
	"os"

	"github.com/dsoprea/go-logging"
	"github.com/jessevdk/go-flags"
	"github.com/spf13/afero"

	"github.com/dsoprea/go-fat"
)

type rootParameters struct {
	FilesystemFilepath string `short:"f" long:"filesystem-filepath" description:"File-path of FAT12/FAT16 image" required:"true"`
	ExtractFilepath    string `short:"e" long:"extract-filepath" description:"Absolute file-path to extract (use forward slashes)" required:"true"`
	OutputFilepath     string `short:"o" long:"output-filepath" description:"File-path to write to ('-' for STDOUT)" required:"true"`
}

var (
	rootArguments = new(rootParameters)
)

func main() {
	defer func() {
		if state := recover(); state != nil {
			err := log.Wrap(state.(error))
			log.PrintError(err)
			os.Exit(-1)
		}
	}()

	p := flags.NewParser(rootArguments, flags.Default)

	_, err := p.Parse()
	if err != nil {
		os.Exit(1)
	}

	fs := afero.NewOsFs()

	source, err := fat.NewFileSource(fs, rootArguments.FilesystemFilepath)
	log.PanicIf(err)

	defer source.Close()

	fr := fat.NewFatReader(source)

	err = fr.Parse()
	log.PanicIf(err)

	tree := fat.NewTree(fr)

	le, found, err := tree.Lookup(rootArguments.ExtractFilepath)
	log.PanicIf(err)

	if found != true {
		fmt.Printf("File not found.\n")
		os.Exit(2)
	} else if le.IsDirectory == true {
		fmt.Printf("Path is a directory.\n")
		os.Exit(3)
	}

	var w io.Writer

	if rootArguments.OutputFilepath == "-" {
		w = os.Stdout
	} else {
		g, err := fs.Create(rootArguments.OutputFilepath)
		log.PanicIf(err)

		defer func() {
			g.Close()
		}()

		w = g
	}

	_, err = fr.WriteFromClusterChain(uint32(le.FirstCluster), le.Size, w)
	log.PanicIf(err)

	if rootArguments.OutputFilepath != "-" {
		fmt.Printf("(%d) bytes written.\n", le.Size)
	}
}
