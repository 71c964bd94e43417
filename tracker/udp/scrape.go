package udp

import (
	"errors"
	"fmt"
)

// Beyond this a scrape request no longer fits in a typical MTU. See BEP 15.
const MaxScrapeInfoHashes = 74

var ErrTooManyInfoHashes = fmt.Errorf("more than %d info hashes in scrape", MaxScrapeInfoHashes)

type ScrapeRequest []InfoHash

type ScrapeResponse []ScrapeInfohashResult

type ScrapeInfohashResult struct {
	// I'm not sure why the fields are named differently for HTTP scrapes.
	// https://www.bittorrent.org/beps/bep_0048.html
	Seeders   int32 `bencode:"complete"`
	Completed int32 `bencode:"downloaded"`
	Leechers  int32 `bencode:"incomplete"`
} // 12 bytes

func checkScrapeInfoHashes(ihs []InfoHash) error {
	if len(ihs) == 0 {
		return errors.New("no info hashes to scrape")
	}
	if len(ihs) > MaxScrapeInfoHashes {
		return ErrTooManyInfoHashes
	}
	return nil
}

const scrapeInfohashResultLen = 12

func checkScrapeResponseBody(b []byte, numInfoHashes int) error {
	if len(b)%scrapeInfohashResultLen != 0 {
		return fmt.Errorf("scrape response length %v isn't a multiple of %v", len(b), scrapeInfohashResultLen)
	}
	if n := len(b) / scrapeInfohashResultLen; n > numInfoHashes {
		return fmt.Errorf("got %v results but expected %v", n, numInfoHashes)
	}
	return nil
}
