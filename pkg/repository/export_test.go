package repository

var NextHistoryID = nextHistoryID
