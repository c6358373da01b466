package main

import (
	"fmt"
	"os"

	"github.com/dsoprea/go-logging"
	"github.com/jessevdk/go-flags"
	"github.com/spf13/afero"

	"github.com/dsoprea/go-fat"
)

type rootParameters struct {
	Filepath     string `short:"f" long:"filepath" description:"File-path of FAT12/FAT16 image" required:"true"`
	ClusterChain uint32 `short:"c" long:"cluster-chain" description:"Also print the FAT chain that starts at this cluster"`
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

	source, err := fat.NewFileSource(afero.NewOsFs(), rootArguments.Filepath)
	log.PanicIf(err)

	defer source.Close()

	fr := fat.NewFatReader(source)

	err = fr.Parse()
	log.PanicIf(err)

	fr.BootSector().Dump()

	if rootArguments.ClusterChain != 0 {
		chain, err := fr.ClusterChain(rootArguments.ClusterChain)
		log.PanicIf(err)

		fmt.Printf("Cluster chain:")

		for i, clusterNumber := range chain {
			if i > 0 {
				fmt.Printf(" ->")
			}

			fmt.Printf(" %d", clusterNumber)
		}

		fmt.Printf("\n")
	}
}
