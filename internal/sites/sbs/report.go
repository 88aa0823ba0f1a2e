package sbs

import (
	"context"
	"strconv"
	"strings"
	"unicode"

	"platescraper/internal/adapter"
	"platescraper/lib/htmlutil"

	"github.com/PuerkitoBio/goquery"
)

const Collection = "/sbs-insurance"

// Result is what one search shows: the accident count in the header of the
// first table and the detail table as html.
type Result struct {
	Count     int
	TableHtml string
}

// parseCount reads the header count, anything that is not a plain number
// counts as 0.
func parseCount(text string) int {
	text = strings.TrimSpace(text)
	if text == "" {
		return 0
	}
	for _, r := range text {
		if !unicode.IsDigit(r) {
			return 0
		}
	}
	count, err := strconv.Atoi(text)
	if err != nil {
		return 0
	}
	return count
}

// ParseResults reads the results container html. A missing header or detail
// table gives a zero count or empty html.
func ParseResults(containerHtml string) (Result, error) {
	doc, err := htmlutil.ParseFragment(containerHtml)
	if err != nil {
		return Result{}, err
	}
	tables := doc.Find("body > div").First().ChildrenFiltered("table")

	result := Result{
		Count: parseCount(htmlutil.SelectionText(tables.Eq(0).Find("thead tr th span").First())),
	}
	if tables.Length() > 1 {
		result.TableHtml, err = goquery.OuterHtml(tables.Eq(1))
		if err != nil {
			return Result{}, err
		}
	}
	return result, nil
}

// Artifact holds the three searches of one plate.
type Artifact struct {
	PlateNumber string
	Soat        Result
	Insurance   Result
	Cat         Result
}

type body struct {
	PlateNumber           string `json:"plateNumber"`
	SoatAccidents         int    `json:"soatAccidents"`
	SoatTableDetails      string `json:"soatTableDetails"`
	InsuranceAccidents    int    `json:"insuranceAccidents"`
	InsuranceTableDetails string `json:"insuranceTableDetails"`
	CatAccidents          int    `json:"catAccidents"`
	CatTableDetails       string `json:"catTableDetails"`
}

func (a *Artifact) Plate() string {
	return a.PlateNumber
}

func (a *Artifact) Upload(ctx context.Context, store adapter.Store) error {
	return store.Post(ctx, Collection, body{
		PlateNumber:           a.PlateNumber,
		SoatAccidents:         a.Soat.Count,
		SoatTableDetails:      a.Soat.TableHtml,
		InsuranceAccidents:    a.Insurance.Count,
		InsuranceTableDetails: a.Insurance.TableHtml,
		CatAccidents:          a.Cat.Count,
		CatTableDetails:       a.Cat.TableHtml,
	})
}
